package directory

import "strings"

// ResourceType classifies a protectable resource.
type ResourceType string

const (
	TypeArea  ResourceType = "area"
	TypeLabel ResourceType = "label"
	TypePanel ResourceType = "panel"
)

// Resource id prefixes. Every resource id carries its type prefix, which
// makes ids globally unique across types.
const (
	PrefixArea  = "area_"
	PrefixLabel = "label_"
	PrefixPanel = "panel_"
)

// SelfPanelID is the service's own management surface. It is excluded from
// reconciliation and always reachable by admins.
const SelfPanelID = PrefixPanel + "permhub"

// ProfilePanelID is always visible to every user so nobody can lock
// themselves out of their own profile (and the logout button on it).
const ProfilePanelID = PrefixPanel + "profile"

// ResourceTypes lists the currently supported types. Stored permission
// entries with any other prefix are dropped on load.
var ResourceTypes = []ResourceType{TypeArea, TypeLabel, TypePanel}

// User is a directory member. ID is host-assigned and immutable.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

// Resource is a protectable object. Icon and EntityCount are display
// metadata refreshed from the host; they never affect authorization.
type Resource struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        ResourceType `json:"type"`
	Icon        string       `json:"icon,omitempty"`
	EntityCount int          `json:"entity_count"`
}

// Prefix returns the id prefix for a resource type, or "" for an unknown type.
func (t ResourceType) Prefix() string {
	switch t {
	case TypeArea:
		return PrefixArea
	case TypeLabel:
		return PrefixLabel
	case TypePanel:
		return PrefixPanel
	}
	return ""
}

// ParseType returns the type of a resource id by its prefix, and whether the
// prefix is one of the supported set.
func ParseType(resourceID string) (ResourceType, bool) {
	switch {
	case strings.HasPrefix(resourceID, PrefixArea):
		return TypeArea, true
	case strings.HasPrefix(resourceID, PrefixLabel):
		return TypeLabel, true
	case strings.HasPrefix(resourceID, PrefixPanel):
		return TypePanel, true
	}
	return "", false
}

// BareID strips the type prefix from a resource id. Ids without a known
// prefix come back unchanged.
func BareID(resourceID string) string {
	if t, ok := ParseType(resourceID); ok {
		return resourceID[len(t.Prefix()):]
	}
	return resourceID
}

// MakeID builds a prefixed resource id from a type and a host-local id.
func MakeID(t ResourceType, hostID string) string {
	return t.Prefix() + hostID
}
