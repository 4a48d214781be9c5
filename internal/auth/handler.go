package auth

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"permhub/internal/engine"
	"permhub/internal/store"
)

// AuthHandler serves local service-account authentication. Directory users
// normally arrive with host-issued identity; these endpoints exist for the
// bootstrap admin and any other locally provisioned accounts.
type AuthHandler struct {
	store     *store.Store
	jwtSecret string
}

func NewAuthHandler(s *store.Store, jwtSecret string) *AuthHandler {
	return &AuthHandler{store: s, jwtSecret: jwtSecret}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidInputError("Invalid request body")
	}
	if body.Name == "" || body.Password == "" {
		return engine.NotAuthenticatedError("Name and password are required")
	}

	ctx := c.Context()

	var (
		userID, passwordHash string
		isAdmin              bool
	)
	err := h.store.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT user_id, password_hash, is_admin FROM _permhub_credentials WHERE name = %s",
			h.store.Dialect.Placeholder(1)),
		body.Name).Scan(&userID, &passwordHash, &isAdmin)
	if err != nil && err != sql.ErrNoRows {
		return engine.StorageUnavailableError("Credential store unavailable")
	}
	if err != nil || !CheckPassword(body.Password, passwordHash) {
		return engine.NotAuthenticatedError("Invalid name or password")
	}

	pair, err := h.generateTokenPair(ctx, userID, body.Name, isAdmin)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh. Tokens rotate on use.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidInputError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.NotAuthenticatedError("Refresh token is required")
	}

	ctx := c.Context()
	ph := h.store.Dialect.Placeholder

	var (
		userID    string
		expiresAt int64
	)
	err := h.store.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT user_id, expires_at FROM _permhub_refresh_tokens WHERE token = %s", ph(1)),
		body.RefreshToken).Scan(&userID, &expiresAt)
	if err != nil {
		return engine.NotAuthenticatedError("Invalid refresh token")
	}

	// The used token is deleted either way.
	_, _ = h.store.DB.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM _permhub_refresh_tokens WHERE token = %s", ph(1)),
		body.RefreshToken)

	if time.Now().Unix() > expiresAt {
		return engine.NotAuthenticatedError("Refresh token expired")
	}

	var (
		name    string
		isAdmin bool
	)
	err = h.store.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT name, is_admin FROM _permhub_credentials WHERE user_id = %s", ph(1)),
		userID).Scan(&name, &isAdmin)
	if err != nil {
		return engine.NotAuthenticatedError("Account no longer exists")
	}

	pair, err := h.generateTokenPair(ctx, userID, name, isAdmin)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidInputError("Invalid request body")
	}
	if body.RefreshToken != "" {
		_, _ = h.store.DB.ExecContext(c.Context(),
			fmt.Sprintf("DELETE FROM _permhub_refresh_tokens WHERE token = %s",
				h.store.Dialect.Placeholder(1)),
			body.RefreshToken)
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// RegisterAuthRoutes registers auth routes on the given Fiber app.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler) {
	auth := app.Group("/api/auth")
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.Refresh)
	auth.Post("/logout", h.Logout)
}

// SeedBootstrapAdmin provisions the configured admin service account when
// it does not exist yet. Password changes in config do not rewrite an
// existing account.
func SeedBootstrapAdmin(ctx context.Context, s *store.Store, name, password string) error {
	if name == "" || password == "" {
		return nil
	}

	ph := s.Dialect.Placeholder
	var existing string
	err := s.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT user_id FROM _permhub_credentials WHERE name = %s", ph(1)),
		name).Scan(&existing)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check bootstrap admin: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO _permhub_credentials (user_id, name, password_hash, is_admin) VALUES (%s, %s, %s, %s)",
			ph(1), ph(2), ph(3), ph(4)),
		uuid.New().String(), name, hash, true)
	if err != nil {
		return fmt.Errorf("seed bootstrap admin: %w", err)
	}
	log.Printf("Bootstrap admin account %q created", name)
	return nil
}

func (h *AuthHandler) generateTokenPair(ctx context.Context, userID, name string, isAdmin bool) (*TokenPair, error) {
	accessToken, err := GenerateAccessToken(userID, name, isAdmin, h.jwtSecret)
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to generate access token")
	}

	refreshToken := GenerateRefreshToken()
	expiresAt := time.Now().Add(RefreshTokenTTL).Unix()

	ph := h.store.Dialect.Placeholder
	_, err = h.store.DB.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO _permhub_refresh_tokens (token, user_id, expires_at) VALUES (%s, %s, %s)",
			ph(1), ph(2), ph(3)),
		refreshToken, userID, expiresAt)
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to store refresh token")
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
