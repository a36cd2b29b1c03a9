package handlers

import (
	"errors"
	"sync/atomic"

	"github.com/getpawsy/autoheal/internal/scheduler"
	"github.com/gofiber/fiber/v2"
)

// OpsHandler exposes the on-demand probe, test, and cycle triggers.
type OpsHandler struct {
	sched *scheduler.Scheduler
	probe *scheduler.Probe
	tests *scheduler.TestRunner

	probeBusy atomic.Bool
}

func NewOpsHandler(sched *scheduler.Scheduler, probe *scheduler.Probe, tests *scheduler.TestRunner) *OpsHandler {
	return &OpsHandler{sched: sched, probe: probe, tests: tests}
}

// RunTests triggers the e2e test pass. Single-flight; concurrent calls 409.
func (h *OpsHandler) RunTests(c *fiber.Ctx) error {
	report, err := h.tests.Run()
	if err != nil {
		if errors.Is(err, scheduler.ErrTestBusy) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":  true,
				"reason": "test_run_in_progress",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
	return c.JSON(report)
}

// RunProbe triggers the synthetic storefront check. Single-flight as well.
func (h *OpsHandler) RunProbe(c *fiber.Ctx) error {
	if !h.probeBusy.CompareAndSwap(false, true) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  true,
			"reason": "probe_in_progress",
		})
	}
	defer h.probeBusy.Store(false)

	return c.JSON(h.probe.Run())
}

// Cycle triggers one scheduler pass; the scheduler's own debounce and locks
// still apply.
func (h *OpsHandler) Cycle(c *fiber.Ctx) error {
	return c.JSON(h.sched.Cycle("manual"))
}
