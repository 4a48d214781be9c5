package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"permhub/internal/auth"
	"permhub/internal/config"
	"permhub/internal/directory"
	"permhub/internal/engine"
	"permhub/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db: %s)", cfg.Server.Port, cfg.Database.Driver)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables and local accounts
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	if err := auth.SeedBootstrapAdmin(ctx, db, cfg.Auth.BootstrapName, cfg.Auth.BootstrapPassword); err != nil {
		log.Fatalf("Failed to seed bootstrap admin: %v", err)
	}
	log.Println("System tables ready")

	// 4. Hydrate the permission matrix from the durable record
	perms := store.NewPermissionStore(db, cfg.Sync.SaveDelay())
	if err := perms.Load(ctx); err != nil {
		log.Fatalf("Failed to load permission record: %v", err)
	}
	defer func() {
		if err := perms.Close(context.Background()); err != nil {
			log.Printf("ERROR: final permission save: %v", err)
		}
	}()

	// 5. Seed the directory from the host and start the sync machinery
	reg := directory.NewRegistry()
	host := directory.NewHostClient(cfg.Host.BaseURL, cfg.Host.Secret, cfg.Host.Timeout())
	syncEngine := engine.NewEngine(reg, perms, host, host, cfg.Sync.ExcludedPanels)
	if err := syncEngine.Bootstrap(ctx); err != nil {
		log.Printf("WARN: directory bootstrap incomplete: %v", err)
	}

	queue := engine.NewQueue(256)
	unsubscribe := queue.Subscribe(syncEngine.HandleEvent)
	defer unsubscribe()
	defer queue.Close()

	scheduler := engine.NewReconcileScheduler(syncEngine, cfg.Sync.ReconcileInterval())
	scheduler.Start()
	defer scheduler.Stop()

	// 6. Query and protection services
	protector := engine.NewProtector(cfg.ProtectionRules)
	query := engine.NewQueryService(reg, perms, protector)

	// 7. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 8. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 9. Auth routes (before middleware — no auth required)
	authHandler := auth.NewAuthHandler(db, cfg.JWTSecret)
	auth.RegisterAuthRoutes(app, authHandler)

	// 10. Permission, admin, and host routes
	authMW := auth.Middleware(cfg.JWTSecret, reg)
	handler := engine.NewHandler(query, syncEngine, perms, reg, queue)
	engine.RegisterRoutes(app, handler, authMW, cfg.Host.Secret)

	// 11. Start server, shut down cleanly on SIGINT/SIGTERM
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
