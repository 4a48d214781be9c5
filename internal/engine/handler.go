package engine

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"permhub/internal/directory"
	"permhub/internal/store"
)

// HostSecretHeader carries the shared secret on host-to-service calls.
const HostSecretHeader = "X-Permhub-Host"

type Handler struct {
	query  *QueryService
	engine *Engine
	perms  *store.PermissionStore
	reg    *directory.Registry
	queue  *Queue
}

func NewHandler(q *QueryService, e *Engine, perms *store.PermissionStore, reg *directory.Registry, queue *Queue) *Handler {
	return &Handler{query: q, engine: e, perms: perms, reg: reg, queue: queue}
}

// RegisterRoutes mounts the permission, admin, and host surfaces. authMW
// must populate the caller identity; the host group authenticates with the
// shared secret instead.
func RegisterRoutes(app *fiber.App, h *Handler, authMW fiber.Handler, hostSecret string) {
	perms := app.Group("/api/permissions", authMW)
	perms.Get("/effective", h.Effective)
	perms.Get("/resources/:type", h.PermittedResources)
	perms.Get("/me", h.MyPermissions)

	admin := app.Group("/api/admin", authMW)
	admin.Get("/matrix", h.AdminMatrix)
	admin.Post("/permissions", h.SetPermission)

	host := app.Group("/api/host", RequireHostSecret(hostSecret))
	host.Post("/events", h.HostEvent)
	host.Post("/reconcile", h.HostReconcile)
}

// RequireHostSecret authenticates host-to-service calls by shared secret.
func RequireHostSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return ForbiddenError("Host surface is disabled")
		}
		got := c.Get(HostSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return NotAuthenticatedError("Invalid host secret")
		}
		return c.Next()
	}
}

func getUser(c *fiber.Ctx) *directory.User {
	user, _ := c.Locals("user").(*directory.User)
	return user
}

// Effective handles GET /api/permissions/effective. Callers resolve their
// own pairs; admins may resolve any pair.
func (h *Handler) Effective(c *fiber.Ctx) error {
	user := getUser(c)
	if user == nil {
		return NotAuthenticatedError("Missing auth token")
	}

	userID := c.Query("user_id", user.ID)
	resourceID := c.Query("resource_id")
	if resourceID == "" {
		return InvalidInputError("resource_id is required")
	}
	resourceType, ok := directory.ParseType(resourceID)
	if !ok {
		return InvalidInputError("Unrecognized resource id " + resourceID)
	}
	if userID != user.ID && !user.IsAdmin {
		return ForbiddenError("Cannot query another user's permissions")
	}

	return c.JSON(fiber.Map{
		"key":         directory.PermissionKey(userID, resourceType, resourceID),
		"user_id":     userID,
		"resource_id": resourceID,
		"level":       h.query.EffectiveLevel(userID, resourceID),
		"protected":   h.query.IsProtected(userID, resourceID),
	})
}

// PermittedResources handles GET /api/permissions/resources/:type.
func (h *Handler) PermittedResources(c *fiber.Ctx) error {
	user := getUser(c)
	if user == nil {
		return NotAuthenticatedError("Missing auth token")
	}

	t := directory.ResourceType(c.Params("type"))
	if !validResourceType(t) {
		return InvalidInputError("Unknown resource type " + string(t))
	}

	return c.JSON(fiber.Map{"data": h.query.PermittedResources(user.ID, t)})
}

// MyPermissions handles GET /api/permissions/me.
func (h *Handler) MyPermissions(c *fiber.Ctx) error {
	user := getUser(c)
	if user == nil {
		return NotAuthenticatedError("Missing auth token")
	}
	return c.JSON(fiber.Map{"data": h.query.AllPermissionsFor(user.ID)})
}

// AdminMatrix handles GET /api/admin/matrix.
func (h *Handler) AdminMatrix(c *fiber.Ctx) error {
	user := getUser(c)
	if user == nil {
		return NotAuthenticatedError("Missing auth token")
	}
	if !user.IsAdmin {
		return ForbiddenError("Admin access required")
	}
	return c.JSON(fiber.Map{"data": h.query.AdminMatrix()})
}

type setPermissionRequest struct {
	UserID     string `json:"user_id"`
	ResourceID string `json:"resource_id"`
	Level      int    `json:"level"`
}

// SetPermission handles POST /api/admin/permissions. Validation order is
// deliberate: identity, admin right, input shape, target existence,
// protection. Protected pairs reject the write instead of silently
// ignoring it.
func (h *Handler) SetPermission(c *fiber.Ctx) error {
	user := getUser(c)
	if user == nil {
		return NotAuthenticatedError("Missing auth token")
	}
	if !user.IsAdmin {
		return ForbiddenError("Admin access required")
	}

	var req setPermissionRequest
	if err := c.BodyParser(&req); err != nil {
		return InvalidInputError("Invalid JSON body")
	}
	if _, ok := directory.ParseType(req.ResourceID); !ok {
		return InvalidInputError("Unrecognized resource id " + req.ResourceID)
	}
	if _, ok := ParseLevel(req.Level); !ok {
		return InvalidInputError("Level out of range")
	}
	target, ok := h.reg.GetUser(req.UserID)
	if !ok {
		return NotFoundError("user", req.UserID)
	}
	// The matrix only ever references tracked resources; a grant for an
	// unknown id would be an orphan no purge path could reach.
	res, ok := h.reg.GetResource(req.ResourceID)
	if !ok {
		return NotFoundError("resource", req.ResourceID)
	}
	if target.IsAdmin || h.query.IsProtected(target.ID, res.ID) {
		return ForbiddenError("Pair is protected, level is fixed at maximum")
	}

	if err := h.perms.Set(req.UserID, req.ResourceID, req.Level); err != nil {
		return InvalidInputError(err.Error())
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user_id":     req.UserID,
			"resource_id": req.ResourceID,
			"level":       req.Level,
		},
	})
}

// HostEvent handles POST /api/host/events: one directory change pushed by
// the host. The event is queued and applied asynchronously.
func (h *Handler) HostEvent(c *fiber.Ctx) error {
	var ev Event
	if err := c.BodyParser(&ev); err != nil {
		return InvalidInputError("Invalid JSON body")
	}
	if !validEventKind(ev.Kind) {
		return InvalidInputError("Unknown event kind " + string(ev.Kind))
	}
	if !validEntityKind(ev.EntityKind) {
		return InvalidInputError("Unknown entity kind " + string(ev.EntityKind))
	}
	if ev.ID == "" {
		return InvalidInputError("id is required")
	}

	h.queue.Publish(ev)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
}

// HostReconcile handles POST /api/host/reconcile: synchronous bulk
// reconcile against the host directory.
func (h *Handler) HostReconcile(c *fiber.Ctx) error {
	if err := h.engine.Reconcile(c.Context()); err != nil {
		return HostUnavailableError("Reconcile failed: " + err.Error())
	}
	return c.JSON(fiber.Map{"status": "reconciled"})
}

func validResourceType(t directory.ResourceType) bool {
	for _, known := range directory.ResourceTypes {
		if t == known {
			return true
		}
	}
	return false
}

func validEventKind(k EventKind) bool {
	return k == EventCreated || k == EventRemoved || k == EventUpdated
}

func validEntityKind(k EntityKind) bool {
	switch k {
	case EntityUser, EntityArea, EntityLabel, EntityPanel:
		return true
	}
	return false
}
