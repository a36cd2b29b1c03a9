package main

import (
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getpawsy/autoheal/internal/alerts"
	"github.com/getpawsy/autoheal/internal/catalog"
	"github.com/getpawsy/autoheal/internal/config"
	"github.com/getpawsy/autoheal/internal/database"
	"github.com/getpawsy/autoheal/internal/diagnostics"
	"github.com/getpawsy/autoheal/internal/handlers"
	"github.com/getpawsy/autoheal/internal/heal"
	"github.com/getpawsy/autoheal/internal/routes"
	"github.com/getpawsy/autoheal/internal/scheduler"
	"github.com/getpawsy/autoheal/internal/settings"
	"github.com/getpawsy/autoheal/internal/telemetry"
	"github.com/getpawsy/autoheal/internal/triage"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	// JSON structured logging, teed into the in-memory buffer so triage can
	// hand recent lines to the LLM.
	logBuffer := diagnostics.NewLogBuffer()
	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, logBuffer), &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting AutoHeal", "version", handlers.Version)

	// ─── Config ──────────────────────────────────────────────────────────
	cfg := config.Load()

	// ─── Database ────────────────────────────────────────────────────────
	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(db); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	// ─── Stores ─────────────────────────────────────────────────────────
	catalogStore := catalog.NewStore(cfg.DataDir)
	flagStore := catalog.NewFlagStore(cfg.DataDir)
	settingsStore := settings.NewStore(cfg.DataDir, cfg.IsDeployment())
	aggregator := telemetry.NewAggregator(cfg.DataDir)

	// ─── Diagnostics ────────────────────────────────────────────────────
	counters := diagnostics.NewCounters()
	collector := diagnostics.NewCollector(db, catalogStore, counters)

	// ─── Triage + fix runner ────────────────────────────────────────────
	triageEngine := triage.NewEngine(cfg, collector, logBuffer, heal.AllowedActionTypes())
	runner := heal.NewRunner(db, catalogStore, flagStore, catalog.KeywordClassifier{}, cfg.DataDir)

	// ─── Scheduler ──────────────────────────────────────────────────────
	probe := scheduler.NewProbe(cfg.StoreURL)
	tests := scheduler.NewTestRunner(cfg.TestCommand, cfg.TestTimeoutSec, cfg.DataDir)
	lock := scheduler.NewFileLock(cfg.DataDir, func() time.Duration {
		return 2 * time.Duration(settingsStore.Effective().IntervalSeconds) * time.Second
	})
	sched := scheduler.New(cfg, settingsStore, aggregator, triageEngine, runner, probe, tests, lock)
	sched.Start()

	// ─── Alert evaluator ────────────────────────────────────────────────
	var notifiers []alerts.Notifier
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(cfg.AlertWebhookURL, cfg.AlertWebhookToken))
	}
	evaluator := alerts.NewEvaluator(db, aggregator, notifiers, cfg.AlertsEnabled)
	evaluator.Start(5 * time.Minute)

	// ─── Handlers ───────────────────────────────────────────────────────
	authHandler := handlers.NewAuthHandler(cfg)
	systemHandler := handlers.NewSystemHandler(aggregator, collector, logBuffer)
	telemetryHandler := handlers.NewTelemetryHandler(aggregator, counters)
	healHandler := handlers.NewHealHandler(db, settingsStore, runner, triageEngine, sched)
	triageHandler := handlers.NewTriageHandler(triageEngine)
	opsHandler := handlers.NewOpsHandler(sched, probe, tests)
	alertHandler := handlers.NewAlertHandler(db, evaluator)

	// ─── Fiber App ──────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      "autoheal v" + handlers.Version,
		ServerHeader: "autoheal",
		BodyLimit:    2 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": message,
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	}))

	app.Use(recover.New(recover.Config{
		EnableStackTrace: false,
	}))

	// Security headers
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" {
			return err
		}
		slog.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)
		return err
	})

	// ─── Routes ─────────────────────────────────────────────────────────
	routes.Setup(app, cfg, authHandler, systemHandler, telemetryHandler,
		healHandler, triageHandler, opsHandler, alertHandler)

	// ─── Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down AutoHeal...")

		evaluator.Stop()
		sched.Stop()

		if err := app.Shutdown(); err != nil {
			slog.Error("Fiber shutdown error", "error", err)
		}

		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// ─── Start ──────────────────────────────────────────────────────────
	listenAddr := ":" + cfg.Port
	slog.Info("AutoHeal listening", "addr", listenAddr)

	if err := app.Listen(listenAddr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
