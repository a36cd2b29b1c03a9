package heal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/getpawsy/autoheal/internal/catalog"
	"github.com/getpawsy/autoheal/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Per-action result statuses that never reach the ledger.
const (
	resultRejected = "rejected"
	resultSkipped  = "skipped"
)

// RunOpts bounds one executor run.
type RunOpts struct {
	DryRun      bool
	MaxFixes    int
	MaxProducts int
	Actor       string
	Level       int
}

// ActionResult is the per-action entry of a RunResult.
type ActionResult struct {
	ActionType string     `json:"action_type"`
	Status     string     `json:"status"` // planned/applied/failed from the ledger, plus rejected/skipped
	Reason     string     `json:"reason,omitempty"`
	Changes    int        `json:"changes"`
	Details    []string   `json:"details,omitempty"`
	ActionID   *uuid.UUID `json:"action_id,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunResult aggregates one executor run.
type RunResult struct {
	OK            bool           `json:"ok"`
	DryRun        bool           `json:"dry_run"`
	TotalChanges  int            `json:"total_changes"`
	Actions       []ActionResult `json:"actions"`
	Errors        []string       `json:"errors"`
	ActionIDs     []uuid.UUID    `json:"action_ids"`
	CorrelationID uuid.UUID      `json:"correlation_id"`
	RanAt         time.Time      `json:"ran_at"`
}

// Runner validates candidate actions against the policy, snapshots affected
// rows, applies the transforms, and records every outcome in the ledger.
type Runner struct {
	db         *gorm.DB
	store      *catalog.Store
	flags      *catalog.FlagStore
	classifier catalog.PetClassifier
	dataDir    string
}

func NewRunner(db *gorm.DB, store *catalog.Store, flags *catalog.FlagStore, classifier catalog.PetClassifier, dataDir string) *Runner {
	return &Runner{db: db, store: store, flags: flags, classifier: classifier, dataDir: dataDir}
}

// Run processes the candidate actions in order. One failing action never
// aborts the rest; ok is true only when no errors were collected.
func (r *Runner) Run(actionTypes []string, opts RunOpts) RunResult {
	res := RunResult{
		DryRun:        opts.DryRun,
		Actions:       []ActionResult{},
		Errors:        []string{},
		ActionIDs:     []uuid.UUID{},
		CorrelationID: uuid.New(),
		RanAt:         time.Now().UTC(),
	}

	products, err := r.store.Load()
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("catalog_unreadable: %v", err))
		return res
	}

	rc := &RunContext{
		Products:    products,
		Classifier:  r.classifier,
		Flags:       r.flags,
		DataDir:     r.dataDir,
		MaxProducts: opts.MaxProducts,
	}

	approvalActive := r.approvalActive()

	for _, actionType := range actionTypes {
		// Quota reached: remaining candidates are skipped, not rejected.
		if opts.MaxFixes > 0 && res.TotalChanges >= opts.MaxFixes {
			res.Actions = append(res.Actions, ActionResult{
				ActionType: actionType,
				Status:     resultSkipped,
				Reason:     "max_fixes_reached",
			})
			continue
		}

		// Policy gate: no ledger row for a disallowed type.
		rule := LookupPolicy(actionType)
		if !rule.Allowed {
			res.Actions = append(res.Actions, ActionResult{
				ActionType: actionType,
				Status:     resultRejected,
				Reason:     "not_allow_listed",
			})
			res.Errors = append(res.Errors, fmt.Sprintf("%s: not_allow_listed", actionType))
			continue
		}
		if !opts.DryRun && rule.RequiresApproval && !approvalActive {
			res.Actions = append(res.Actions, ActionResult{
				ActionType: actionType,
				Status:     resultRejected,
				Reason:     "approval_required",
			})
			res.Errors = append(res.Errors, fmt.Sprintf("%s: approval_required", actionType))
			continue
		}

		remaining := 0
		if opts.MaxFixes > 0 {
			remaining = opts.MaxFixes - res.TotalChanges
		}

		ar := r.runOne(rc, actionType, opts, res.CorrelationID, remaining)
		res.Actions = append(res.Actions, ar)
		res.TotalChanges += ar.Changes
		if ar.ActionID != nil {
			res.ActionIDs = append(res.ActionIDs, *ar.ActionID)
		}
		if ar.Error != "" {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", actionType, ar.Error))
		}
	}

	// Single read-modify-write of the catalog document per run; dry runs
	// leave the file untouched.
	if !opts.DryRun && rc.CatalogDirty {
		if err := r.store.Save(rc.Products); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("catalog_persist_failed: %v", err))
		}
	}

	res.OK = len(res.Errors) == 0
	return res
}

func (r *Runner) runOne(rc *RunContext, actionType string, opts RunOpts, correlationID uuid.UUID, remaining int) ActionResult {
	ar := ActionResult{ActionType: actionType}

	handler, ok := handlerFor(actionType)
	if !ok {
		// Allow-listed but unregistered means the policy and registry
		// drifted apart; treat it like a rejected action.
		ar.Status = resultRejected
		ar.Reason = "no_handler"
		ar.Error = "no_handler"
		return ar
	}

	mode := models.ModeApply
	if opts.DryRun {
		mode = models.ModeDry
	}

	action := models.Action{
		ID:            uuid.New(),
		Actor:         opts.Actor,
		Level:         opts.Level,
		ActionType:    actionType,
		Mode:          mode,
		Status:        models.ActionPlanned,
		CorrelationID: correlationID,
	}
	if err := r.db.Create(&action).Error; err != nil {
		ar.Status = models.ActionFailed
		ar.Error = fmt.Sprintf("ledger_write_failed: %v", err)
		return ar
	}
	ar.ActionID = &action.ID

	plan, err := handler.Plan(rc)
	if err != nil {
		return r.fail(&action, ar, err)
	}

	// The per-run mutation budget also bounds a single oversized action.
	if remaining > 0 {
		truncatePlan(plan, remaining)
	}

	action.TargetCount = len(plan.Targets)
	ar.Details = plan.Details

	if opts.DryRun {
		// Report intent only; no snapshots, no mutation.
		ar.Changes = plan.Changes
		return r.finish(&action, ar, plan, plan.Changes)
	}

	// Snapshot every affected row's pre-image before mutating it.
	for _, t := range plan.Targets {
		snap := models.Snapshot{
			ID:         uuid.New(),
			ActionID:   action.ID,
			TableName:  t.Table,
			RowKey:     t.Key,
			BeforeJSON: datatypes.JSON(t.Before),
		}
		if err := r.db.Create(&snap).Error; err != nil {
			return r.fail(&action, ar, fmt.Errorf("snapshot_write_failed: %w", err))
		}
	}

	changes, err := handler.Apply(rc, plan)
	if err != nil {
		return r.fail(&action, ar, err)
	}
	ar.Changes = changes
	return r.finish(&action, ar, plan, changes)
}

func (r *Runner) finish(action *models.Action, ar ActionResult, plan *ActionPlan, changes int) ActionResult {
	diff, _ := json.Marshal(plan)
	action.Status = models.ActionApplied
	action.Changes = changes
	action.DiffPayload = datatypes.JSON(diff)
	if err := r.db.Save(action).Error; err != nil {
		slog.Error("Failed to persist action outcome", "action_id", action.ID, "error", err)
	}
	slog.Info("AutoHeal action applied",
		"action_id", action.ID,
		"type", action.ActionType,
		"mode", action.Mode,
		"changes", changes,
		"targets", action.TargetCount,
	)
	ar.Status = models.ActionApplied
	return ar
}

func (r *Runner) fail(action *models.Action, ar ActionResult, err error) ActionResult {
	action.Status = models.ActionFailed
	action.ErrorDetails = err.Error()
	if dbErr := r.db.Save(action).Error; dbErr != nil {
		slog.Error("Failed to persist action failure", "action_id", action.ID, "error", dbErr)
	}
	slog.Warn("AutoHeal action failed", "action_id", action.ID, "type", action.ActionType, "error", err)
	ar.Status = models.ActionFailed
	ar.Error = err.Error()
	return ar
}

func truncatePlan(plan *ActionPlan, n int) {
	if plan.Changes <= n {
		return
	}
	if len(plan.Targets) > n {
		plan.Targets = plan.Targets[:n]
	}
	if len(plan.Details) > n {
		plan.Details = plan.Details[:n]
	}
	plan.Changes = n
	plan.Notes = "truncated to max_fixes"
}

// approvalActive reports whether a non-revoked Level2Approval row exists.
func (r *Runner) approvalActive() bool {
	var count int64
	r.db.Model(&models.Level2Approval{}).Where("revoked_at IS NULL").Count(&count)
	return count > 0
}
