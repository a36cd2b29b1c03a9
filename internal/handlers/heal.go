package handlers

import (
	"encoding/json"
	"time"

	"github.com/getpawsy/autoheal/internal/heal"
	"github.com/getpawsy/autoheal/internal/models"
	"github.com/getpawsy/autoheal/internal/scheduler"
	"github.com/getpawsy/autoheal/internal/settings"
	"github.com/getpawsy/autoheal/internal/triage"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Level2Confirmation is the exact literal /enable-level2 requires.
const Level2Confirmation = "ENABLE LEVEL 2 AUTOHEAL"

type HealHandler struct {
	db       *gorm.DB
	settings *settings.Store
	runner   *heal.Runner
	triage   *triage.Engine
	sched    *scheduler.Scheduler
}

func NewHealHandler(db *gorm.DB, st *settings.Store, runner *heal.Runner, tri *triage.Engine, sched *scheduler.Scheduler) *HealHandler {
	return &HealHandler{db: db, settings: st, runner: runner, triage: tri, sched: sched}
}

func actor(c *fiber.Ctx) string {
	if username, ok := c.Locals("username").(string); ok && username != "" {
		return username
	}
	return "unknown"
}

func (h *HealHandler) audit(c *fiber.Ctx, action, target string, details interface{}) {
	entry := models.AuditLog{ID: uuid.New(), Actor: actor(c), Action: action, Target: target}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			entry.Details = datatypes.JSON(data)
		}
	}
	h.db.Create(&entry)
}

// ─── State ──────────────────────────────────────────────────────────────────

func (h *HealHandler) GetState(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"settings":  h.settings.Get(),
		"effective": h.settings.Effective(),
		"can_apply": h.settings.CanApplyFixes(),
	})
}

func (h *HealHandler) UpdateState(c *fiber.Ctx) error {
	var patch settings.Patch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	updated, err := h.settings.Update(patch, actor(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to persist settings",
		})
	}

	h.audit(c, "settings_update", "autoheal", patch)
	return c.JSON(fiber.Map{
		"settings":  updated,
		"effective": h.settings.Effective(),
	})
}

// Kill toggles the kill switch; enabling it also pauses the scheduler
// immediately rather than waiting for the next cycle gate.
func (h *HealHandler) Kill(c *fiber.Ctx) error {
	var req struct {
		KillSwitch bool `json:"kill_switch"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	if _, err := h.settings.Update(settings.Patch{KillSwitch: &req.KillSwitch}, actor(c)); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to persist settings",
		})
	}
	h.sched.Pause(req.KillSwitch)

	h.audit(c, "kill_switch", "autoheal", req)
	return c.JSON(fiber.Map{
		"kill_switch": req.KillSwitch,
		"effective":   h.settings.Effective(),
	})
}

// ─── Fix ────────────────────────────────────────────────────────────────────

func (h *HealHandler) Fix(c *fiber.Ctx) error {
	dryRun := c.Query("dryRun", "1") != "0"

	var req struct {
		Actions        []string `json:"actions"`
		UseRecommended bool     `json:"use_recommended"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	if !dryRun {
		if gate := h.settings.CanApplyFixes(); !gate.Allowed {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   true,
				"message": "Apply mode not permitted",
				"reason":  gate.Reason,
			})
		}
	}

	actionTypes := req.Actions
	if req.UseRecommended {
		last, ok := h.triage.Last()
		if !ok || last.Plan == nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   true,
				"message": "No triage result with recommended fixes",
				"reason":  "no_recommendation",
			})
		}
		actionTypes = last.Plan.SafeFixes
	}
	if len(actionTypes) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "No actions supplied",
		})
	}

	eff := h.settings.Effective()
	result := h.runner.Run(actionTypes, heal.RunOpts{
		DryRun:      dryRun,
		MaxFixes:    eff.MaxChangesPerRun,
		MaxProducts: eff.MaxProductsPerRun,
		Actor:       actor(c),
		Level:       eff.Level,
	})

	h.audit(c, "fix_run", "catalog", result)
	return c.JSON(result)
}

// FixLog returns the audit trail of fix runs, newest first.
func (h *HealHandler) FixLog(c *fiber.Ctx) error {
	var entries []models.AuditLog
	if err := h.db.Where("action = ?", "fix_run").Order("created_at DESC").Limit(50).Find(&entries).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to read fix log",
		})
	}
	return c.JSON(fiber.Map{"runs": entries})
}

// ─── Audit reads ────────────────────────────────────────────────────────────

func (h *HealHandler) ListActions(c *fiber.Ctx) error {
	query := h.db.Order("created_at DESC").Limit(200)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if mode := c.Query("mode"); mode != "" {
		query = query.Where("mode = ?", mode)
	}

	var actions []models.Action
	if err := query.Find(&actions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list actions",
		})
	}
	return c.JSON(fiber.Map{"actions": actions})
}

func (h *HealHandler) ListSnapshots(c *fiber.Ctx) error {
	var snaps []models.Snapshot
	if err := h.db.Order("created_at DESC").Limit(200).Find(&snaps).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list snapshots",
		})
	}
	return c.JSON(fiber.Map{"snapshots": snaps})
}

// SnapshotsByRun returns every snapshot of a run via its correlation id.
func (h *HealHandler) SnapshotsByRun(c *fiber.Ctx) error {
	runID, err := uuid.Parse(c.Params("runId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid run ID",
		})
	}

	var actions []models.Action
	if err := h.db.Where("correlation_id = ?", runID).Find(&actions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to read run",
		})
	}

	actionIDs := make([]uuid.UUID, 0, len(actions))
	for _, a := range actions {
		actionIDs = append(actionIDs, a.ID)
	}

	var snaps []models.Snapshot
	if len(actionIDs) > 0 {
		h.db.Where("action_id IN ?", actionIDs).Order("created_at ASC").Find(&snaps)
	}

	return c.JSON(fiber.Map{
		"run_id":    runID,
		"actions":   actions,
		"snapshots": snaps,
	})
}

// ─── Rollback ───────────────────────────────────────────────────────────────

func (h *HealHandler) RollbackPreview(c *fiber.Ctx) error {
	actionID, err := uuid.Parse(c.Params("actionId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid action ID",
		})
	}

	preview := h.runner.Preview(actionID)
	if !preview.OK {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  true,
			"reason": preview.Reason,
		})
	}
	return c.JSON(preview)
}

func (h *HealHandler) Rollback(c *fiber.Ctx) error {
	if gate := h.settings.CanApplyFixes(); !gate.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   true,
			"message": "Rollback not permitted",
			"reason":  gate.Reason,
		})
	}

	actionID, err := uuid.Parse(c.Params("actionId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid action ID",
		})
	}

	result := h.runner.Rollback(actionID, actor(c))
	if !result.OK {
		return c.Status(fiber.StatusConflict).JSON(result)
	}

	h.audit(c, "rollback", actionID.String(), result)
	return c.JSON(result)
}

// ─── Level 2 approval ───────────────────────────────────────────────────────

func (h *HealHandler) EnableLevel2(c *fiber.Ctx) error {
	var req struct {
		Confirm string `json:"confirm"`
		Revoke  bool   `json:"revoke"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	if req.Revoke {
		now := time.Now().UTC()
		h.db.Model(&models.Level2Approval{}).Where("revoked_at IS NULL").Update("revoked_at", now)
		h.audit(c, "level2_revoke", "autoheal", nil)
		return c.JSON(fiber.Map{"active": false})
	}

	if req.Confirm != Level2Confirmation {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Confirmation text does not match",
			"reason":  "bad_confirmation",
		})
	}

	// A fresh approval supersedes any previous one.
	now := time.Now().UTC()
	h.db.Model(&models.Level2Approval{}).Where("revoked_at IS NULL").Update("revoked_at", now)

	approval := models.Level2Approval{
		ID:               uuid.New(),
		ApprovedBy:       actor(c),
		ConfirmationText: req.Confirm,
		ApprovedAt:       now,
	}
	if err := h.db.Create(&approval).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to record approval",
		})
	}

	h.audit(c, "level2_approve", "autoheal", nil)
	return c.JSON(fiber.Map{
		"active":   true,
		"approval": approval,
	})
}
