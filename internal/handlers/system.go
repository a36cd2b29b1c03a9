package handlers

import (
	"github.com/getpawsy/autoheal/internal/diagnostics"
	"github.com/getpawsy/autoheal/internal/telemetry"
	"github.com/gofiber/fiber/v2"
)

var Version = "1.0.0"

type SystemHandler struct {
	aggregator *telemetry.Aggregator
	collector  *diagnostics.Collector
	logBuffer  *diagnostics.LogBuffer
}

func NewSystemHandler(aggregator *telemetry.Aggregator, collector *diagnostics.Collector, logBuffer *diagnostics.LogBuffer) *SystemHandler {
	return &SystemHandler{
		aggregator: aggregator,
		collector:  collector,
		logBuffer:  logBuffer,
	}
}

// Health is the unauthenticated liveness endpoint. It exposes only the
// derived store health score; database state, version and uptime stay on the
// authenticated diagnostics surface.
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	return c.JSON(h.aggregator.HealthScore())
}

// Score returns only the derived store health score.
func (h *SystemHandler) Score(c *fiber.Ctx) error {
	return c.JSON(h.aggregator.HealthScore())
}

// Diagnose runs one read-only diagnostics sweep.
func (h *SystemHandler) Diagnose(c *fiber.Ctx) error {
	return c.JSON(h.collector.Collect())
}

// Logs returns the in-memory tail of recent service log lines.
func (h *SystemHandler) Logs(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"lines": h.logBuffer.Recent(),
	})
}
