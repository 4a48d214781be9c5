package directory

import (
	"sort"
	"sync"
)

// Registry is the in-memory snapshot of the currently known users and
// resources. It is the single owner of directory state: the sync engine
// mutates it, the query service reads it. All methods are safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	users     map[string]*User
	resources map[string]*Resource
}

func NewRegistry() *Registry {
	return &Registry{
		users:     make(map[string]*User),
		resources: make(map[string]*Resource),
	}
}

// GetUser returns a copy of the user with the given id, or false.
func (r *Registry) GetUser(id string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// GetResource returns a copy of the resource with the given id, or false.
func (r *Registry) GetResource(id string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[id]
	if !ok {
		return Resource{}, false
	}
	return *res, true
}

// Users returns all known users sorted by name.
func (r *Registry) Users() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resources returns all known resources of the given type sorted by name.
// An empty type returns every resource.
func (r *Registry) Resources(t ResourceType) []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Resource, 0, len(r.resources))
	for _, res := range r.resources {
		if t != "" && res.Type != t {
			continue
		}
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResourceIDs returns the set of known resource ids of the given type.
func (r *Registry) ResourceIDs(t ResourceType) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make(map[string]struct{})
	for id, res := range r.resources {
		if res.Type == t {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// AddUser registers a user. Returns false if the id is already known.
func (r *Registry) AddUser(u User) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; ok {
		return false
	}
	r.users[u.ID] = &u
	return true
}

// RemoveUser deletes a user. Returns false if the id was unknown.
func (r *Registry) RemoveUser(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return false
	}
	delete(r.users, id)
	return true
}

// UpdateUser applies name/admin changes in place and reports what changed.
// Unknown users report found=false and change nothing.
func (r *Registry) UpdateUser(id, name string, isAdmin bool) (found, nameChanged, adminChanged bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false, false, false
	}
	if u.Name != name {
		u.Name = name
		nameChanged = true
	}
	if u.IsAdmin != isAdmin {
		u.IsAdmin = isAdmin
		adminChanged = true
	}
	return true, nameChanged, adminChanged
}

// AddResource registers a resource. Returns false if the id is already known.
func (r *Registry) AddResource(res Resource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resources[res.ID]; ok {
		return false
	}
	r.resources[res.ID] = &res
	return true
}

// RemoveResource deletes a resource. Returns false if the id was unknown.
func (r *Registry) RemoveResource(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resources[id]; !ok {
		return false
	}
	delete(r.resources, id)
	return true
}

// RenameResource updates the display name of a known resource in place.
// Permissions key on the immutable id, so a rename never touches the store.
func (r *Registry) RenameResource(id, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[id]
	if !ok || name == "" {
		return false
	}
	res.Name = name
	return true
}

// RefreshResource replaces the display metadata of a known resource with
// the authoritative values from the host.
func (r *Registry) RefreshResource(latest Resource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[latest.ID]
	if !ok {
		return false
	}
	if latest.Name != "" {
		res.Name = latest.Name
	}
	res.Icon = latest.Icon
	res.EntityCount = latest.EntityCount
	return true
}

// IsAdmin reports whether the given user id is currently an admin.
func (r *Registry) IsAdmin(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	return ok && u.IsAdmin
}
