package routes

import (
	"time"

	"github.com/getpawsy/autoheal/internal/config"
	"github.com/getpawsy/autoheal/internal/handlers"
	"github.com/getpawsy/autoheal/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	systemHandler *handlers.SystemHandler,
	telemetryHandler *handlers.TelemetryHandler,
	healHandler *handlers.HealHandler,
	triageHandler *handlers.TriageHandler,
	opsHandler *handlers.OpsHandler,
	alertHandler *handlers.AlertHandler,
) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", systemHandler.Health)

	// ─── Auth ────────────────────────────────────────────────────────────
	app.Post("/api/auth/login", authHandler.Login)
	app.Post("/api/auth/refresh", authHandler.Refresh)

	// ─── Protected routes ────────────────────────────────────────────────
	api := app.Group("/api/autoheal", middleware.JWTProtected(cfg.JWTSecret))

	// Mutating admin routes get a per-client rate limit on top of JWT.
	guard := limiter.New(limiter.Config{
		Max:        30,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodGet
		},
	})
	api.Use(guard)

	// Auth (protected)
	api.Get("/auth/me", authHandler.Me)

	// State and guardrails
	api.Get("/state", healHandler.GetState)
	api.Post("/state", healHandler.UpdateState)
	api.Post("/kill", healHandler.Kill)
	api.Post("/enable-level2", healHandler.EnableLevel2)

	// Observation
	api.Get("/score", systemHandler.Score)
	api.Get("/diagnose", systemHandler.Diagnose)
	api.Get("/logs", systemHandler.Logs)
	api.Post("/telemetry", telemetryHandler.Record)
	api.Get("/telemetry/summary", telemetryHandler.Summary)

	// Probe and tests
	api.Post("/run-tests", opsHandler.RunTests)
	api.Post("/run-probe", opsHandler.RunProbe)
	api.Post("/cycle", opsHandler.Cycle)

	// Triage
	api.Post("/triage", triageHandler.Run)
	api.Get("/triage", triageHandler.Last)

	// Fixes, ledger, rollback
	api.Post("/fix", healHandler.Fix)
	api.Get("/fix-log", healHandler.FixLog)
	api.Get("/actions", healHandler.ListActions)
	api.Get("/snapshots", healHandler.ListSnapshots)
	api.Get("/snapshot/:runId", healHandler.SnapshotsByRun)
	api.Get("/rollback/:actionId/preview", healHandler.RollbackPreview)
	api.Post("/rollback/:actionId", healHandler.Rollback)

	// Alerting
	api.Get("/alerts", alertHandler.ListAlerts)
	api.Post("/alerts/evaluate", alertHandler.Evaluate)
}
