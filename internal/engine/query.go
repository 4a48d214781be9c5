package engine

import (
	"sort"

	"permhub/internal/directory"
	"permhub/internal/store"
)

// ResourceAccess is one resource a user can see, with live directory
// metadata and the resolved access level. Slug is derived from the display
// name for front-end anchors; ids, not slugs, identify the resource.
type ResourceAccess struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Icon        string `json:"icon,omitempty"`
	EntityCount int    `json:"entity_count,omitempty"`
	Level       Level  `json:"level"`
}

// MatrixUser is a directory user as exposed by the admin matrix.
type MatrixUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

// Matrix is the full administration view: every tracked user, every
// tracked resource grouped by type, and the raw stored grants. Stored
// grants are reported as-is; protection overrides apply at query time,
// not in the stored matrix.
type Matrix struct {
	Users       []MatrixUser                `json:"users"`
	Resources   map[string][]ResourceAccess `json:"resources"`
	Permissions map[string]map[string]int   `json:"permissions"`
}

// QueryService resolves effective access levels. Every resolution is
// fail-secure: unknown users, unknown resources, and malformed stored
// values all come out Closed.
type QueryService struct {
	reg     *directory.Registry
	perms   *store.PermissionStore
	protect *Protector
}

func NewQueryService(reg *directory.Registry, perms *store.PermissionStore, protect *Protector) *QueryService {
	return &QueryService{reg: reg, perms: perms, protect: protect}
}

// EffectiveLevel resolves one user/resource pair. Protected pairs always
// resolve to the maximum level regardless of stored grants; everything
// else falls through to the stored matrix, defaulting to Closed.
func (q *QueryService) EffectiveLevel(userID, resourceID string) Level {
	user, ok := q.reg.GetUser(userID)
	if !ok {
		return LevelClosed
	}
	if user.IsAdmin {
		return LevelMax
	}
	res, ok := q.reg.GetResource(resourceID)
	if !ok {
		return LevelClosed
	}
	if q.protect != nil && q.protect.IsProtected(user, res) {
		return LevelMax
	}
	lvl, ok := ParseLevel(q.perms.Get(userID, resourceID))
	if !ok {
		return LevelClosed
	}
	return lvl
}

// IsProtected reports whether stored grants are ignored for this pair.
func (q *QueryService) IsProtected(userID, resourceID string) bool {
	user, ok := q.reg.GetUser(userID)
	if !ok {
		return false
	}
	if user.IsAdmin {
		return true
	}
	res, ok := q.reg.GetResource(resourceID)
	if !ok {
		return false
	}
	return q.protect != nil && q.protect.IsProtected(user, res)
}

// PermittedResources lists every resource of one type the user can at
// least view, sorted by name. Resource ids are returned bare, without the
// type prefix, matching how the host addresses them.
func (q *QueryService) PermittedResources(userID string, t directory.ResourceType) []ResourceAccess {
	out := []ResourceAccess{}
	for _, res := range q.reg.Resources(t) {
		lvl := q.EffectiveLevel(userID, res.ID)
		if lvl < LevelView {
			continue
		}
		out = append(out, ResourceAccess{
			ID:          directory.BareID(res.ID),
			Name:        res.Name,
			Slug:        directory.Slugify(res.Name),
			Icon:        res.Icon,
			EntityCount: res.EntityCount,
			Level:       lvl,
		})
	}
	return out
}

// AllPermissionsFor resolves the user's effective level for every tracked
// resource, grouped by type. Closed entries are included so callers see
// the complete picture.
func (q *QueryService) AllPermissionsFor(userID string) map[string][]ResourceAccess {
	out := make(map[string][]ResourceAccess, len(directory.ResourceTypes))
	for _, t := range directory.ResourceTypes {
		grouped := []ResourceAccess{}
		for _, res := range q.reg.Resources(t) {
			grouped = append(grouped, ResourceAccess{
				ID:          directory.BareID(res.ID),
				Name:        res.Name,
				Slug:        directory.Slugify(res.Name),
				Icon:        res.Icon,
				EntityCount: res.EntityCount,
				Level:       q.EffectiveLevel(userID, res.ID),
			})
		}
		out[string(t)] = grouped
	}
	return out
}

// AdminMatrix assembles the administration view.
func (q *QueryService) AdminMatrix() Matrix {
	users := []MatrixUser{}
	for _, u := range q.reg.Users() {
		users = append(users, MatrixUser{ID: u.ID, Name: u.Name, IsAdmin: u.IsAdmin})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })

	resources := make(map[string][]ResourceAccess, len(directory.ResourceTypes))
	for _, t := range directory.ResourceTypes {
		grouped := []ResourceAccess{}
		for _, res := range q.reg.Resources(t) {
			grouped = append(grouped, ResourceAccess{
				ID:          res.ID,
				Name:        res.Name,
				Slug:        directory.Slugify(res.Name),
				Icon:        res.Icon,
				EntityCount: res.EntityCount,
			})
		}
		resources[string(t)] = grouped
	}

	return Matrix{
		Users:       users,
		Resources:   resources,
		Permissions: q.perms.Snapshot(),
	}
}
