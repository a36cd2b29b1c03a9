package handlers

import (
	"github.com/getpawsy/autoheal/internal/triage"
	"github.com/gofiber/fiber/v2"
)

type TriageHandler struct {
	engine *triage.Engine
}

func NewTriageHandler(engine *triage.Engine) *TriageHandler {
	return &TriageHandler{engine: engine}
}

// Run triggers a triage pass. A failed LLM call still returns 200 with
// {ok:false}: triage failure is a result, not a server error.
func (h *TriageHandler) Run(c *fiber.Ctx) error {
	var req struct {
		Note string `json:"note"`
	}
	_ = c.BodyParser(&req) // empty body is fine

	return c.JSON(h.engine.Run(req.Note))
}

// Last returns the most recent persisted triage result.
func (h *TriageHandler) Last(c *fiber.Ctx) error {
	res, ok := h.engine.Last()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "No triage result yet",
		})
	}
	return c.JSON(res)
}
