package engine

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"permhub/internal/directory"
	"permhub/internal/store"
)

const testHostSecret = "host-secret"

type testEnv struct {
	app   *fiber.App
	reg   *directory.Registry
	perms *store.PermissionStore
	queue *Queue
	host  *fakeHost
}

// identityMW stands in for the auth middleware: the caller is whoever the
// test says it is, or nobody when caller is nil.
func identityMW(caller *directory.User) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if caller != nil {
			c.Locals("user", caller)
		}
		return c.Next()
	}
}

func newTestApp(t *testing.T, caller *directory.User) *testEnv {
	t.Helper()
	reg := directory.NewRegistry()
	perms := store.NewPermissionStore(nullPersister{}, time.Hour)
	host := newFakeHost()
	eng := NewEngine(reg, perms, host, host, nil)
	query := NewQueryService(reg, perms, NewProtector(nil))
	queue := NewQueue(16)
	t.Cleanup(queue.Close)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *AppError
			if errors.As(err, &appErr) {
				return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
			}
			return c.Status(500).SendString(err.Error())
		},
	})
	h := NewHandler(query, eng, perms, reg, queue)
	RegisterRoutes(app, h, identityMW(caller), testHostSecret)

	return &testEnv{app: app, reg: reg, perms: perms, queue: queue, host: host}
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error == nil {
		t.Fatalf("not an error response: %s", body)
	}
	return er.Error.Code
}

func TestSetPermissionValidationOrder(t *testing.T) {
	admin := &directory.User{ID: "root", Name: "Root", IsAdmin: true}
	env := newTestApp(t, admin)
	env.reg.AddUser(*admin)
	env.reg.AddUser(directory.User{ID: "u1", Name: "Alice"})
	env.reg.AddResource(directory.Resource{ID: "area_kitchen", Name: "Kitchen", Type: directory.TypeArea})
	env.reg.AddResource(directory.Resource{ID: directory.ProfilePanelID, Name: "Profile", Type: directory.TypePanel})

	// Bad resource prefix.
	resp, body := doJSON(t, env.app, "POST", "/api/admin/permissions",
		`{"user_id":"u1","resource_id":"zone_garden","level":1}`, nil)
	if resp.StatusCode != 422 || errorCode(t, body) != "INVALID_INPUT" {
		t.Fatalf("bad prefix: %d %s", resp.StatusCode, body)
	}

	// Bad level.
	resp, body = doJSON(t, env.app, "POST", "/api/admin/permissions",
		`{"user_id":"u1","resource_id":"area_kitchen","level":9}`, nil)
	if resp.StatusCode != 422 || errorCode(t, body) != "INVALID_INPUT" {
		t.Fatalf("bad level: %d %s", resp.StatusCode, body)
	}

	// Unknown user.
	resp, body = doJSON(t, env.app, "POST", "/api/admin/permissions",
		`{"user_id":"ghost","resource_id":"area_kitchen","level":1}`, nil)
	if resp.StatusCode != 404 || errorCode(t, body) != "NOT_FOUND" {
		t.Fatalf("unknown user: %d %s", resp.StatusCode, body)
	}

	// Untracked resource: a grant for it would be an orphan nothing ever
	// purges, so the write is refused rather than staged.
	resp, body = doJSON(t, env.app, "POST", "/api/admin/permissions",
		`{"user_id":"u1","resource_id":"area_typo","level":1}`, nil)
	if resp.StatusCode != 404 || errorCode(t, body) != "NOT_FOUND" {
		t.Fatalf("unknown resource: %d %s", resp.StatusCode, body)
	}
	if got := env.perms.Get("u1", "area_typo"); got != 0 {
		t.Fatalf("grant for unknown resource was stored: %d", got)
	}

	// Protected pair.
	resp, body = doJSON(t, env.app, "POST", "/api/admin/permissions",
		`{"user_id":"u1","resource_id":"panel_profile","level":0}`, nil)
	if resp.StatusCode != 403 || errorCode(t, body) != "FORBIDDEN" {
		t.Fatalf("protected pair: %d %s", resp.StatusCode, body)
	}

	// Valid write.
	resp, _ = doJSON(t, env.app, "POST", "/api/admin/permissions",
		`{"user_id":"u1","resource_id":"area_kitchen","level":2}`, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("valid write: %d", resp.StatusCode)
	}
	if got := env.perms.Get("u1", "area_kitchen"); got != 2 {
		t.Fatalf("stored level = %d", got)
	}
}

func TestSetPermissionRequiresAdmin(t *testing.T) {
	alice := &directory.User{ID: "u1", Name: "Alice"}
	env := newTestApp(t, alice)

	resp, body := doJSON(t, env.app, "POST", "/api/admin/permissions",
		`{"user_id":"u1","resource_id":"area_kitchen","level":1}`, nil)
	if resp.StatusCode != 403 || errorCode(t, body) != "FORBIDDEN" {
		t.Fatalf("non-admin write: %d %s", resp.StatusCode, body)
	}

	anon := newTestApp(t, nil)
	resp, body = doJSON(t, anon.app, "POST", "/api/admin/permissions",
		`{"user_id":"u1","resource_id":"area_kitchen","level":1}`, nil)
	if resp.StatusCode != 401 || errorCode(t, body) != "NOT_AUTHENTICATED" {
		t.Fatalf("anonymous write: %d %s", resp.StatusCode, body)
	}
}

func TestEffectiveEndpoint(t *testing.T) {
	alice := &directory.User{ID: "u1", Name: "Alice"}
	env := newTestApp(t, alice)
	env.reg.AddUser(*alice)
	env.reg.AddUser(directory.User{ID: "u2", Name: "Bob"})
	env.reg.AddResource(directory.Resource{ID: "area_kitchen", Name: "Kitchen", Type: directory.TypeArea})
	env.perms.Set("u1", "area_kitchen", 1)

	resp, body := doJSON(t, env.app, "GET", "/api/permissions/effective?resource_id=area_kitchen", "", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("self query: %d %s", resp.StatusCode, body)
	}
	var out struct {
		Key       string `json:"key"`
		Level     Level  `json:"level"`
		Protected bool   `json:"protected"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Level != LevelView || out.Protected {
		t.Fatalf("self query = %+v", out)
	}
	if out.Key != "perm_u1_area_area_kitchen" {
		t.Fatalf("key = %q", out.Key)
	}

	// Non-admins cannot look at other users.
	resp, body = doJSON(t, env.app, "GET", "/api/permissions/effective?resource_id=area_kitchen&user_id=u2", "", nil)
	if resp.StatusCode != 403 || errorCode(t, body) != "FORBIDDEN" {
		t.Fatalf("cross-user query: %d %s", resp.StatusCode, body)
	}
}

func TestPermittedResourcesEndpoint(t *testing.T) {
	alice := &directory.User{ID: "u1", Name: "Alice"}
	env := newTestApp(t, alice)
	env.reg.AddUser(*alice)
	env.reg.AddResource(directory.Resource{ID: "area_kitchen", Name: "Kitchen", Type: directory.TypeArea})
	env.perms.Set("u1", "area_kitchen", 1)

	resp, body := doJSON(t, env.app, "GET", "/api/permissions/resources/area", "", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("list areas: %d %s", resp.StatusCode, body)
	}
	var out struct {
		Data []ResourceAccess `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Data) != 1 || out.Data[0].ID != "kitchen" {
		t.Fatalf("areas = %+v", out.Data)
	}

	resp, body = doJSON(t, env.app, "GET", "/api/permissions/resources/zone", "", nil)
	if resp.StatusCode != 422 || errorCode(t, body) != "INVALID_INPUT" {
		t.Fatalf("unknown type: %d %s", resp.StatusCode, body)
	}
}

func TestAdminMatrixEndpointRequiresAdmin(t *testing.T) {
	alice := &directory.User{ID: "u1", Name: "Alice"}
	env := newTestApp(t, alice)

	resp, body := doJSON(t, env.app, "GET", "/api/admin/matrix", "", nil)
	if resp.StatusCode != 403 || errorCode(t, body) != "FORBIDDEN" {
		t.Fatalf("non-admin matrix: %d %s", resp.StatusCode, body)
	}
}

func TestHostEventEndpoint(t *testing.T) {
	env := newTestApp(t, nil)
	secret := map[string]string{HostSecretHeader: testHostSecret}

	// Missing secret.
	resp, _ := doJSON(t, env.app, "POST", "/api/host/events",
		`{"kind":"created","entity_kind":"area","id":"kitchen"}`, nil)
	if resp.StatusCode != 401 {
		t.Fatalf("no secret: %d", resp.StatusCode)
	}

	// Malformed event.
	resp, body := doJSON(t, env.app, "POST", "/api/host/events",
		`{"kind":"exploded","entity_kind":"area","id":"kitchen"}`, secret)
	if resp.StatusCode != 422 || errorCode(t, body) != "INVALID_INPUT" {
		t.Fatalf("bad kind: %d %s", resp.StatusCode, body)
	}

	// Accepted event reaches the queue subscriber.
	got := make(chan Event, 1)
	cancel := env.queue.Subscribe(func(ev Event) error {
		got <- ev
		return nil
	})
	defer cancel()

	resp, _ = doJSON(t, env.app, "POST", "/api/host/events",
		`{"kind":"created","entity_kind":"area","id":"kitchen","name":"Kitchen"}`, secret)
	if resp.StatusCode != 202 {
		t.Fatalf("valid event: %d", resp.StatusCode)
	}
	select {
	case ev := <-got:
		if ev.Kind != EventCreated || ev.EntityKind != EntityArea || ev.ID != "kitchen" {
			t.Fatalf("dispatched event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never dispatched")
	}
}

func TestHostReconcileEndpoint(t *testing.T) {
	env := newTestApp(t, nil)
	secret := map[string]string{HostSecretHeader: testHostSecret}

	env.host.resources[directory.TypeArea] = []directory.Resource{
		{ID: "area_kitchen", Name: "Kitchen", Type: directory.TypeArea},
	}
	resp, _ := doJSON(t, env.app, "POST", "/api/host/reconcile", "", secret)
	if resp.StatusCode != 200 {
		t.Fatalf("reconcile: %d", resp.StatusCode)
	}
	if _, ok := env.reg.GetResource("area_kitchen"); !ok {
		t.Fatal("reconcile did not pull the new area")
	}

	// Host down: that is an upstream failure, not a durable-storage one.
	env.host.listErr = errors.New("host is down")
	resp, body := doJSON(t, env.app, "POST", "/api/host/reconcile", "", secret)
	if resp.StatusCode != 502 || errorCode(t, body) != "HOST_UNAVAILABLE" {
		t.Fatalf("failed reconcile: %d %s", resp.StatusCode, body)
	}
}
