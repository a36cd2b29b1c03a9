package handlers

import (
	"strconv"

	"github.com/getpawsy/autoheal/internal/diagnostics"
	"github.com/getpawsy/autoheal/internal/telemetry"
	"github.com/gofiber/fiber/v2"
)

type TelemetryHandler struct {
	aggregator *telemetry.Aggregator
	counters   *diagnostics.Counters
}

func NewTelemetryHandler(aggregator *telemetry.Aggregator, counters *diagnostics.Counters) *TelemetryHandler {
	return &TelemetryHandler{aggregator: aggregator, counters: counters}
}

// Record ingests one storefront beacon. Unknown event names come back as a
// 400 with INVALID_EVENT_TYPE rather than being silently dropped.
func (h *TelemetryHandler) Record(c *fiber.Ctx) error {
	var req struct {
		Event    string                 `json:"event"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := c.BodyParser(&req); err != nil || req.Event == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Event name is required",
		})
	}

	res := h.aggregator.Record(req.Event, req.Metadata)
	if !res.OK {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  true,
			"reason": res.Error,
		})
	}

	// Accepted failure beacons also feed the rolling diagnostics counters.
	switch req.Event {
	case "add_to_cart_failed":
		h.counters.CartAddFailed()
	case "pdp_not_found":
		h.counters.ProductNotFound()
	case "image_render_failed":
		h.counters.RenderFailed()
		if src, ok := req.Metadata["image_url"].(string); ok && src != "" {
			h.counters.Image404(src)
		}
	}

	return c.JSON(res)
}

// Summary returns the windowed aggregation plus lifetime totals.
func (h *TelemetryHandler) Summary(c *fiber.Ctx) error {
	hoursBack, err := strconv.Atoi(c.Query("hours", "24"))
	if err != nil || hoursBack < 1 {
		hoursBack = 24
	}
	return c.JSON(fiber.Map{
		"summary": h.aggregator.Summarize(hoursBack),
		"totals":  h.aggregator.Totals(),
	})
}
