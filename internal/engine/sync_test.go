package engine

import (
	"context"
	"testing"
	"time"

	"permhub/internal/directory"
	"permhub/internal/store"
)

type fakeHost struct {
	users     map[string]directory.User
	resources map[directory.ResourceType][]directory.Resource
	listErr   error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		users:     make(map[string]directory.User),
		resources: make(map[directory.ResourceType][]directory.Resource),
	}
}

func (f *fakeHost) ListUsers(ctx context.Context) ([]directory.User, error) {
	out := []directory.User{}
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeHost) GetUser(ctx context.Context, id string) (directory.User, bool, error) {
	u, ok := f.users[id]
	return u, ok, nil
}

func (f *fakeHost) ListResources(ctx context.Context, t directory.ResourceType) ([]directory.Resource, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.resources[t], nil
}

type nullPersister struct{}

func (nullPersister) LoadRecord(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (nullPersister) SaveRecord(ctx context.Context, key string, data []byte) error { return nil }

func newTestEngine(t *testing.T, host *fakeHost) (*Engine, *directory.Registry, *store.PermissionStore) {
	t.Helper()
	reg := directory.NewRegistry()
	perms := store.NewPermissionStore(nullPersister{}, time.Hour)
	e := NewEngine(reg, perms, host, host, []string{"config"})
	return e, reg, perms
}

func TestBootstrapSeedsDirectory(t *testing.T) {
	host := newFakeHost()
	host.users["u1"] = directory.User{ID: "u1", Name: "Alice"}
	host.resources[directory.TypeArea] = []directory.Resource{
		{ID: "area_kitchen", Name: "Kitchen", Type: directory.TypeArea},
	}
	host.resources[directory.TypePanel] = []directory.Resource{
		{ID: "panel_map", Name: "Map", Type: directory.TypePanel},
		{ID: "panel_config", Name: "Settings", Type: directory.TypePanel},
	}

	e, reg, _ := newTestEngine(t, host)
	if err := e.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if _, ok := reg.GetUser("u1"); !ok {
		t.Fatal("user not seeded")
	}
	if _, ok := reg.GetResource("area_kitchen"); !ok {
		t.Fatal("area not seeded")
	}
	if _, ok := reg.GetResource(directory.SelfPanelID); !ok {
		t.Fatal("own panel not registered")
	}
	if _, ok := reg.GetResource("panel_config"); ok {
		t.Fatal("excluded panel was seeded")
	}
}

func TestUserEventsIdempotent(t *testing.T) {
	host := newFakeHost()
	host.users["u1"] = directory.User{ID: "u1", Name: "Alice"}

	e, reg, _ := newTestEngine(t, host)

	ev := Event{Kind: EventCreated, EntityKind: EntityUser, ID: "u1"}
	if err := e.HandleEvent(ev); err != nil {
		t.Fatalf("first created: %v", err)
	}
	// Replayed event is a logged no-op, not an error.
	if err := e.HandleEvent(ev); err != nil {
		t.Fatalf("duplicate created: %v", err)
	}
	if _, ok := reg.GetUser("u1"); !ok {
		t.Fatal("user missing after events")
	}

	rm := Event{Kind: EventRemoved, EntityKind: EntityUser, ID: "u1"}
	if err := e.HandleEvent(rm); err != nil {
		t.Fatalf("removed: %v", err)
	}
	if err := e.HandleEvent(rm); err != nil {
		t.Fatalf("duplicate removed: %v", err)
	}
	if _, ok := reg.GetUser("u1"); ok {
		t.Fatal("user still tracked after removal")
	}
}

func TestUserRemovalPurgesPermissions(t *testing.T) {
	host := newFakeHost()
	host.users["u1"] = directory.User{ID: "u1", Name: "Alice"}

	e, _, perms := newTestEngine(t, host)
	if err := e.HandleEvent(Event{Kind: EventCreated, EntityKind: EntityUser, ID: "u1"}); err != nil {
		t.Fatalf("created: %v", err)
	}
	perms.Set("u1", "area_kitchen", 2)

	if err := e.HandleEvent(Event{Kind: EventRemoved, EntityKind: EntityUser, ID: "u1"}); err != nil {
		t.Fatalf("removed: %v", err)
	}
	if got := perms.Get("u1", "area_kitchen"); got != 0 {
		t.Fatalf("permissions survived user removal: %d", got)
	}
}

func TestAdminRoundTripPreservesStoredGrants(t *testing.T) {
	host := newFakeHost()
	host.users["u1"] = directory.User{ID: "u1", Name: "Alice"}

	e, reg, perms := newTestEngine(t, host)
	reg.AddResource(directory.Resource{ID: "area_kitchen", Name: "Kitchen", Type: directory.TypeArea})
	if err := e.HandleEvent(Event{Kind: EventCreated, EntityKind: EntityUser, ID: "u1"}); err != nil {
		t.Fatalf("created: %v", err)
	}
	perms.Set("u1", "area_kitchen", int(LevelView))

	// Promote, then demote. Neither transition writes to the store.
	host.users["u1"] = directory.User{ID: "u1", Name: "Alice", IsAdmin: true}
	if err := e.HandleEvent(Event{Kind: EventUpdated, EntityKind: EntityUser, ID: "u1"}); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !reg.IsAdmin("u1") {
		t.Fatal("registry missed the promotion")
	}
	if got := perms.Get("u1", "area_kitchen"); got != int(LevelView) {
		t.Fatalf("promotion mutated the stored grant: %d", got)
	}

	host.users["u1"] = directory.User{ID: "u1", Name: "Alice", IsAdmin: false}
	if err := e.HandleEvent(Event{Kind: EventUpdated, EntityKind: EntityUser, ID: "u1"}); err != nil {
		t.Fatalf("demote: %v", err)
	}
	if reg.IsAdmin("u1") {
		t.Fatal("registry still reports admin")
	}
	if got := perms.Get("u1", "area_kitchen"); got != int(LevelView) {
		t.Fatalf("demotion lost the stored grant: %d", got)
	}
}

func TestResourceEvents(t *testing.T) {
	host := newFakeHost()
	e, reg, perms := newTestEngine(t, host)

	// Host-local id gets prefixed.
	if err := e.HandleEvent(Event{Kind: EventCreated, EntityKind: EntityArea, ID: "kitchen", Name: "Kitchen"}); err != nil {
		t.Fatalf("created: %v", err)
	}
	if _, ok := reg.GetResource("area_kitchen"); !ok {
		t.Fatal("area not registered")
	}

	if err := e.HandleEvent(Event{Kind: EventUpdated, EntityKind: EntityArea, ID: "kitchen", Name: "Big Kitchen"}); err != nil {
		t.Fatalf("updated: %v", err)
	}
	res, _ := reg.GetResource("area_kitchen")
	if res.Name != "Big Kitchen" {
		t.Fatalf("rename lost: %+v", res)
	}

	perms.Set("u1", "area_kitchen", 1)
	if err := e.HandleEvent(Event{Kind: EventRemoved, EntityKind: EntityArea, ID: "kitchen"}); err != nil {
		t.Fatalf("removed: %v", err)
	}
	if _, ok := reg.GetResource("area_kitchen"); ok {
		t.Fatal("area still tracked after removal")
	}
	if got := perms.Get("u1", "area_kitchen"); got != 0 {
		t.Fatalf("permissions survived resource removal: %d", got)
	}
}

func TestExcludedPanelEventsIgnored(t *testing.T) {
	host := newFakeHost()
	e, reg, _ := newTestEngine(t, host)

	if err := e.HandleEvent(Event{Kind: EventCreated, EntityKind: EntityPanel, ID: "config", Name: "Settings"}); err != nil {
		t.Fatalf("created: %v", err)
	}
	if _, ok := reg.GetResource("panel_config"); ok {
		t.Fatal("excluded panel registered via event")
	}
}

func TestReconcileSymmetricDifference(t *testing.T) {
	host := newFakeHost()
	host.resources[directory.TypeArea] = []directory.Resource{
		{ID: "area_kitchen", Name: "Kitchen", Type: directory.TypeArea, EntityCount: 9},
		{ID: "area_garage", Name: "Garage", Type: directory.TypeArea},
	}

	e, reg, perms := newTestEngine(t, host)
	// Tracked but gone from the host.
	reg.AddResource(directory.Resource{ID: "area_attic", Name: "Attic", Type: directory.TypeArea})
	// Tracked and surviving, with stale metadata.
	reg.AddResource(directory.Resource{ID: "area_kitchen", Name: "Kitchen", Type: directory.TypeArea, EntityCount: 2})
	perms.Set("u1", "area_attic", 3)

	if err := e.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if _, ok := reg.GetResource("area_garage"); !ok {
		t.Fatal("new area not added")
	}
	if _, ok := reg.GetResource("area_attic"); ok {
		t.Fatal("stale area not removed")
	}
	if got := perms.Get("u1", "area_attic"); got != 0 {
		t.Fatalf("permissions survived reconcile removal: %d", got)
	}
	kitchen, _ := reg.GetResource("area_kitchen")
	if kitchen.EntityCount != 9 {
		t.Fatalf("survivor metadata not refreshed: %+v", kitchen)
	}
}

func TestReconcileNeverTouchesOwnPanel(t *testing.T) {
	host := newFakeHost()
	// Host listing does not include the service's own panel.
	host.resources[directory.TypePanel] = []directory.Resource{}

	e, reg, _ := newTestEngine(t, host)
	reg.AddResource(directory.Resource{
		ID: directory.SelfPanelID, Name: "Permission Manager", Type: directory.TypePanel,
	})

	if err := e.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := reg.GetResource(directory.SelfPanelID); !ok {
		t.Fatal("reconcile removed the service's own panel")
	}
}
