package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"portfolio-cms/internal/admin"
	"portfolio-cms/internal/apperr"
	"portfolio-cms/internal/auth"
	"portfolio-cms/internal/content"
	"portfolio-cms/internal/logging"
	"portfolio-cms/internal/metrics"
	"portfolio-cms/internal/public"
	"portfolio-cms/internal/schema"
	"portfolio-cms/internal/storage"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := schema.Default()
	if err := migrate(ctx, db, reg); err != nil {
		return err
	}

	m, promReg := newMetrics()
	repo := openRepository(db, reg, m)
	c, closeCache, err := openCache(ctx, m)
	if err != nil {
		return err
	}
	defer closeCache()

	files, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          apperr.ErrorHandler(logging.Component(logger, "http")),
		BodyLimit:             int(cfg.Storage.MaxFileSize) + 1<<20,
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(logging.RequestLogger(logger))

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := db.Ping(c.UserContext()); err != nil {
			return apperr.Backend("Database unavailable")
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", metrics.Handler(promReg))

	// Auth
	tokens, err := auth.NewTokens(cfg.Auth)
	if err != nil {
		return err
	}
	users := auth.NewUsers(db)
	authHandler := auth.NewHandler(users, tokens, cfg.Auth, logger)
	auth.RegisterRoutes(app, authHandler)
	authMW := auth.Middleware(tokens, authHandler.CookieName())
	adminMW := auth.RequireAdmin()

	janitor := auth.NewJanitor(users, "", logger)
	if err := janitor.Start(); err != nil {
		return err
	}
	defer func() { <-janitor.Stop().Done() }()

	// Admin
	uploads := storage.NewHandler(files, cfg.Storage.MaxFileSize, logger)
	workspaces := admin.NewManager(admin.Deps{
		Registry:     reg,
		Repo:         repo,
		Cache:        c,
		Metrics:      m,
		Logger:       logger,
		SanitizeHTML: cfg.RichText.SanitizeOnWrite,
		Timeout:      cfg.Backend.RequestTimeout,
	}, cfg.Auth.IdleTimeout)
	if err := workspaces.Start(); err != nil {
		return err
	}
	defer func() { <-workspaces.Stop().Done() }()

	adminHandler := admin.NewHandler(workspaces, uploads.Upload)
	authHandler.OnLogout(adminHandler.OnLogout)
	admin.RegisterRoutes(app, adminHandler, authMW, adminMW)
	app.Delete("/api/admin/uploads/*", authMW, adminMW, uploads.Remove)

	app.Get("/admin/*", auth.RedirectToLogin(tokens, authHandler.CookieName()), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"data": fiber.Map{"user": auth.GetUser(c), "tabs": admin.Tabs()}})
	})

	// Public
	if local, ok := files.(*storage.LocalStorage); ok {
		app.Static(cfg.Storage.PublicURL, local.BasePath())
	}
	svc := content.NewService(content.Options{
		Registry: reg,
		Repo:     repo,
		Cache:    c,
		SiteURL:  cfg.Server.SiteURL,
		Logger:   logger,
	})
	limit, err := public.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Period)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	public.RegisterRoutes(app, public.NewHandler(svc, public.NewForms(reg, repo, c, m), logger), limit)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info().Str("addr", addr).Str("backend", cfg.Backend.Driver).Msg("server starting")
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
