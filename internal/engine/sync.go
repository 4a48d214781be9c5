package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"permhub/internal/directory"
	"permhub/internal/store"
)

// Engine reconciles the directory snapshot and the permission matrix with
// the host environment, reacting to change events and to periodic bulk
// refreshes. Structural add/remove of users and resources is serialized by
// a single registration lock so concurrent duplicate events cannot
// double-create; the lock covers only the add/remove itself, never a call
// out to the host.
type Engine struct {
	reg      *directory.Registry
	perms    *store.PermissionStore
	users    directory.UserDirectory
	catalog  directory.ResourceDirectory
	excluded map[string]struct{} // prefixed resource ids never synced

	regMu sync.Mutex
}

// NewEngine creates the sync engine. excludedPanels are bare panel ids
// (besides the service's own panel, which is always excluded) that stay
// outside permission management entirely.
func NewEngine(
	reg *directory.Registry,
	perms *store.PermissionStore,
	users directory.UserDirectory,
	catalog directory.ResourceDirectory,
	excludedPanels []string,
) *Engine {
	excluded := map[string]struct{}{
		directory.SelfPanelID: {},
	}
	for _, id := range excludedPanels {
		excluded[directory.MakeID(directory.TypePanel, id)] = struct{}{}
	}
	return &Engine{
		reg:      reg,
		perms:    perms,
		users:    users,
		catalog:  catalog,
		excluded: excluded,
	}
}

// Bootstrap seeds the directory from the host: all users, all resources of
// every supported type, and the service's own panel. Called once at
// startup, after the permission store has been hydrated.
func (e *Engine) Bootstrap(ctx context.Context) error {
	users, err := e.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("discover users: %w", err)
	}
	for _, u := range users {
		e.addUser(u)
	}

	e.addResource(directory.Resource{
		ID:   directory.SelfPanelID,
		Name: "Permission Manager",
		Type: directory.TypePanel,
		Icon: "mdi:shield-lock",
	})

	if err := e.Reconcile(ctx); err != nil {
		return err
	}

	log.Printf("Directory bootstrapped: %d users, %d resources",
		len(e.reg.Users()), len(e.reg.Resources("")))
	return nil
}

// HandleEvent applies one directory change. It is the single Queue
// subscriber; returned errors are logged there and never stop the loop.
func (e *Engine) HandleEvent(ev Event) error {
	ctx := context.Background()
	if ev.EntityKind == EntityUser {
		return e.handleUserEvent(ctx, ev)
	}

	t, ok := entityResourceType(ev.EntityKind)
	if !ok {
		return fmt.Errorf("unknown entity kind %q", ev.EntityKind)
	}
	return e.handleResourceEvent(ev, t)
}

func entityResourceType(k EntityKind) (directory.ResourceType, bool) {
	switch k {
	case EntityArea:
		return directory.TypeArea, true
	case EntityLabel:
		return directory.TypeLabel, true
	case EntityPanel:
		return directory.TypePanel, true
	}
	return "", false
}

func (e *Engine) handleUserEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventCreated:
		// The event may be stale; fetch the current name and admin flag.
		u, ok, err := e.users.GetUser(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("fetch user %s: %w", ev.ID, err)
		}
		if !ok {
			log.Printf("WARN: user %s added but unknown to host, ignoring", ev.ID)
			return nil
		}
		e.addUser(u)
		return nil

	case EventRemoved:
		e.regMu.Lock()
		removed := e.reg.RemoveUser(ev.ID)
		e.regMu.Unlock()
		if !removed {
			log.Printf("User %s already absent, remove is a no-op", ev.ID)
			return nil
		}
		e.perms.DeleteUser(ev.ID)
		log.Printf("User removed: %s", ev.ID)
		return nil

	case EventUpdated:
		return e.handleUserUpdated(ctx, ev)
	}
	return fmt.Errorf("unknown event kind %q", ev.Kind)
}

func (e *Engine) handleUserUpdated(ctx context.Context, ev Event) error {
	u, ok, err := e.users.GetUser(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("fetch user %s: %w", ev.ID, err)
	}
	if !ok {
		log.Printf("WARN: update for user %s unknown to host, ignoring", ev.ID)
		return nil
	}

	found, nameChanged, adminChanged := e.reg.UpdateUser(u.ID, u.Name, u.IsAdmin)
	if !found {
		log.Printf("WARN: update for untracked user %s, ignoring", u.ID)
		return nil
	}
	if nameChanged {
		log.Printf("User %s renamed to %q", u.ID, u.Name)
	}
	if !adminChanged {
		return nil
	}

	// Admin status is derived at query time, never materialized into the
	// store: promotion elevates every pair without a write, and demotion
	// reverts each pair to whatever was stored before the promotion. The
	// profile panel stays pinned at maximum through the protection rules.
	if u.IsAdmin {
		log.Printf("User %s promoted to admin, all pairs now protected", u.ID)
	} else {
		log.Printf("User %s demoted from admin, stored grants apply again", u.ID)
	}
	return nil
}

func (e *Engine) handleResourceEvent(ev Event, t directory.ResourceType) error {
	id := ev.ID
	if _, ok := directory.ParseType(id); !ok {
		id = directory.MakeID(t, id)
	}
	if _, excluded := e.excluded[id]; excluded {
		return nil
	}

	switch ev.Kind {
	case EventCreated:
		name := ev.Name
		if name == "" {
			name = directory.BareID(id)
		}
		// No permission rows are pre-created: the matrix is sparse and
		// absence means Closed.
		e.addResource(directory.Resource{ID: id, Name: name, Type: t})
		return nil

	case EventRemoved:
		e.regMu.Lock()
		removed := e.reg.RemoveResource(id)
		e.regMu.Unlock()
		if !removed {
			log.Printf("Resource %s already absent, remove is a no-op", id)
			return nil
		}
		e.perms.DeleteResource(id)
		log.Printf("Resource removed: %s", id)
		return nil

	case EventUpdated:
		// Renames preserve the id, so permissions survive.
		if ev.Name != "" && e.reg.RenameResource(id, ev.Name) {
			log.Printf("Resource %s renamed to %q", id, ev.Name)
		}
		return nil
	}
	return fmt.Errorf("unknown event kind %q", ev.Kind)
}

// addUser registers a user under the registration lock. Re-delivered
// "created" events are detected and logged, not treated as errors.
func (e *Engine) addUser(u directory.User) {
	e.regMu.Lock()
	added := e.reg.AddUser(u)
	e.regMu.Unlock()
	if !added {
		log.Printf("User %s already tracked, skipping", u.ID)
		return
	}
	log.Printf("User added: %s (%s, admin=%t)", u.Name, u.ID, u.IsAdmin)
}

func (e *Engine) addResource(res directory.Resource) {
	e.regMu.Lock()
	added := e.reg.AddResource(res)
	e.regMu.Unlock()
	if !added {
		log.Printf("Resource %s already tracked, skipping", res.ID)
		return
	}
	log.Printf("Resource added: %s (%s)", res.Name, res.ID)
}

// Reconcile brings every resource type in line with the host's
// authoritative listing: symmetric difference of known vs current ids,
// created-logic for additions, removed-logic for deletions, metadata
// refresh for survivors. The service's own panel and the configured system
// panels are excluded from both sides.
func (e *Engine) Reconcile(ctx context.Context) error {
	var firstErr error
	for _, t := range directory.ResourceTypes {
		if err := e.reconcileType(ctx, t); err != nil {
			log.Printf("ERROR: reconcile %ss: %v", t, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Engine) reconcileType(ctx context.Context, t directory.ResourceType) error {
	authoritative, err := e.catalog.ListResources(ctx, t)
	if err != nil {
		return err
	}

	current := make(map[string]directory.Resource, len(authoritative))
	for _, res := range authoritative {
		if _, excluded := e.excluded[res.ID]; excluded {
			continue
		}
		current[res.ID] = res
	}

	known := e.reg.ResourceIDs(t)
	for id := range e.excluded {
		delete(known, id)
	}

	added, removed := 0, 0
	for id, res := range current {
		if _, ok := known[id]; ok {
			e.reg.RefreshResource(res)
			continue
		}
		e.addResource(res)
		added++
	}
	for id := range known {
		if _, ok := current[id]; ok {
			continue
		}
		e.regMu.Lock()
		e.reg.RemoveResource(id)
		e.regMu.Unlock()
		e.perms.DeleteResource(id)
		removed++
	}

	if added > 0 || removed > 0 {
		log.Printf("Reconciled %ss: %d added, %d removed", t, added, removed)
	}
	return nil
}
