package handlers

import (
	"github.com/getpawsy/autoheal/internal/alerts"
	"github.com/getpawsy/autoheal/internal/models"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AlertHandler struct {
	db        *gorm.DB
	evaluator *alerts.Evaluator
}

func NewAlertHandler(db *gorm.DB, evaluator *alerts.Evaluator) *AlertHandler {
	return &AlertHandler{db: db, evaluator: evaluator}
}

// ListAlerts returns alert history, optionally filtered by type or severity.
func (h *AlertHandler) ListAlerts(c *fiber.Ctx) error {
	query := h.db.Order("created_at DESC").Limit(200)
	if t := c.Query("type"); t != "" {
		query = query.Where("type = ?", t)
	}
	if sev := c.Query("severity"); sev != "" {
		query = query.Where("severity = ?", sev)
	}

	var records []models.AlertRecord
	if err := query.Find(&records).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list alerts",
		})
	}
	return c.JSON(fiber.Map{"alerts": records})
}

// Evaluate triggers one threshold pass outside the evaluator's own timer.
func (h *AlertHandler) Evaluate(c *fiber.Ctx) error {
	return c.JSON(h.evaluator.Evaluate())
}
