package heal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/getpawsy/autoheal/internal/catalog"
	"github.com/getpawsy/autoheal/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Rollback failure reasons, surfaced as machine-readable reason codes.
const (
	RollbackNotFound          = "not_found"
	RollbackAlreadyRolledBack = "already_rolled_back"
	RollbackNotApplied        = "not_applied"
	RollbackDryRun            = "dry_run"
)

// RollbackResult reports one rollback attempt. Partial snapshot failures land
// in Errors without aborting the rest.
type RollbackResult struct {
	OK                 bool       `json:"ok"`
	Reason             string     `json:"reason,omitempty"`
	ActionID           uuid.UUID  `json:"action_id"`
	RestoredRows       int        `json:"restored_rows"`
	Errors             []string   `json:"errors,omitempty"`
	CompensatingAction *uuid.UUID `json:"compensating_action,omitempty"`
}

// RollbackPreview lists what a rollback would restore.
type RollbackPreview struct {
	OK        bool              `json:"ok"`
	Reason    string            `json:"reason,omitempty"`
	Action    *models.Action    `json:"action,omitempty"`
	Snapshots []models.Snapshot `json:"snapshots,omitempty"`
}

// Preview checks the preconditions and returns the snapshots without
// restoring anything.
func (r *Runner) Preview(actionID uuid.UUID) RollbackPreview {
	action, reason := r.rollbackTarget(actionID)
	if reason != "" {
		return RollbackPreview{Reason: reason}
	}

	var snaps []models.Snapshot
	r.db.Where("action_id = ?", action.ID).Order("created_at ASC").Find(&snaps)
	return RollbackPreview{OK: true, Action: action, Snapshots: snaps}
}

// Rollback restores every Snapshot of an applied Action, marks it
// rolled_back, and records a compensating Action for audit symmetry.
func (r *Runner) Rollback(actionID uuid.UUID, actor string) RollbackResult {
	res := RollbackResult{ActionID: actionID}

	action, reason := r.rollbackTarget(actionID)
	if reason != "" {
		res.Reason = reason
		return res
	}

	var snaps []models.Snapshot
	if err := r.db.Where("action_id = ?", action.ID).Order("created_at ASC").Find(&snaps).Error; err != nil {
		res.Reason = "ledger_read_failed"
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	products, err := r.store.Load()
	if err != nil {
		res.Reason = "catalog_unreadable"
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	catalogDirty := false
	for _, snap := range snaps {
		switch snap.TableName {
		case "products":
			// Ordered ASC, so the last write for a key wins.
			restored, err := restoreProduct(products, snap)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %v", snap.TableName, snap.RowKey, err))
				continue
			}
			products = restored
			catalogDirty = true
			res.RestoredRows++
		case "feature_flags":
			var before struct {
				Value bool `json:"value"`
			}
			if err := json.Unmarshal(snap.BeforeJSON, &before); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %v", snap.TableName, snap.RowKey, err))
				continue
			}
			if err := r.flags.Set(snap.RowKey, before.Value); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: %v", snap.TableName, snap.RowKey, err))
				continue
			}
			res.RestoredRows++
		default:
			res.Errors = append(res.Errors, fmt.Sprintf("%s/%s: unknown snapshot table", snap.TableName, snap.RowKey))
		}
	}

	if catalogDirty {
		if err := r.store.Save(products); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("catalog_persist_failed: %v", err))
		}
	}

	action.Status = models.ActionRolledBack
	if err := r.db.Save(action).Error; err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("ledger_update_failed: %v", err))
	}

	compensating := models.Action{
		ID:            uuid.New(),
		Actor:         actor,
		Level:         action.Level,
		ActionType:    "ROLLBACK_" + strings.ToUpper(strings.ReplaceAll(action.ActionType, "-", "_")),
		Mode:          models.ModeApply,
		Status:        models.ActionApplied,
		TargetCount:   len(snaps),
		Changes:       res.RestoredRows,
		CorrelationID: action.CorrelationID,
	}
	if diff, err := json.Marshal(map[string]interface{}{
		"rolled_back_action": action.ID,
		"restored_rows":      res.RestoredRows,
		"errors":             res.Errors,
		"at":                 time.Now().UTC(),
	}); err == nil {
		compensating.DiffPayload = datatypes.JSON(diff)
	}
	if err := r.db.Create(&compensating).Error; err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("compensating_action_failed: %v", err))
	} else {
		res.CompensatingAction = &compensating.ID
	}

	res.OK = true
	slog.Info("AutoHeal rollback completed",
		"action_id", action.ID,
		"restored", res.RestoredRows,
		"errors", len(res.Errors),
	)
	return res
}

// rollbackTarget loads the Action and checks preconditions in order, each
// producing a distinct reason.
func (r *Runner) rollbackTarget(actionID uuid.UUID) (*models.Action, string) {
	var action models.Action
	if err := r.db.First(&action, "id = ?", actionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, RollbackNotFound
		}
		return nil, "ledger_read_failed"
	}
	if action.Status == models.ActionRolledBack {
		return nil, RollbackAlreadyRolledBack
	}
	if action.Status != models.ActionApplied {
		return nil, RollbackNotApplied
	}
	if action.Mode != models.ModeApply {
		return nil, RollbackDryRun
	}
	return &action, ""
}

func restoreProduct(products []catalog.Product, snap models.Snapshot) ([]catalog.Product, error) {
	var before catalog.Product
	if err := json.Unmarshal(snap.BeforeJSON, &before); err != nil {
		return nil, fmt.Errorf("bad before-image: %w", err)
	}
	for i := range products {
		if products[i].ID == snap.RowKey {
			products[i] = before
			return products, nil
		}
	}
	// Row disappeared since the snapshot; restore it by re-inserting.
	return append(products, before), nil
}
