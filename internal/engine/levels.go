package engine

import "strconv"

// Level is a permission level for one (user, resource) pair.
type Level int

const (
	LevelClosed  Level = 0 // hidden, no access
	LevelView    Level = 1 // read-only
	LevelLimited Level = 2 // restricted control
	LevelEdit    Level = 3 // full access
)

// LevelMax is what protected pairs and admins resolve to.
const LevelMax = LevelEdit

// Valid reports whether the level is inside the enumeration.
func (l Level) Valid() bool {
	return l >= LevelClosed && l <= LevelEdit
}

func (l Level) String() string {
	switch l {
	case LevelClosed:
		return "Closed"
	case LevelView:
		return "View"
	case LevelLimited:
		return "Limited"
	case LevelEdit:
		return "Edit"
	}
	return "Unknown(" + strconv.Itoa(int(l)) + ")"
}

// ParseLevel converts an untrusted stored or wire value to a Level.
// Anything malformed or out of range resolves to Closed — fail secure,
// never an elevated default. The second return reports whether the input
// was well-formed.
func ParseLevel(v any) (Level, bool) {
	switch n := v.(type) {
	case Level:
		if n.Valid() {
			return n, true
		}
	case int:
		if Level(n).Valid() {
			return Level(n), true
		}
	case int64:
		if Level(n).Valid() {
			return Level(n), true
		}
	case float64:
		if n == float64(int(n)) && Level(int(n)).Valid() {
			return Level(int(n)), true
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil && Level(i).Valid() {
			return Level(i), true
		}
	}
	return LevelClosed, false
}
