package heal

import (
	"os"
	"testing"
	"time"

	"github.com/getpawsy/autoheal/internal/catalog"
	"github.com/getpawsy/autoheal/internal/database"
	"github.com/getpawsy/autoheal/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

type harness struct {
	runner *Runner
	db     *gorm.DB
	store  *catalog.Store
	flags  *catalog.FlagStore
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.OpenTest()
	assert.NoError(t, err)

	dir := t.TempDir()
	store := catalog.NewStore(dir)
	flags := catalog.NewFlagStore(dir)
	return &harness{
		runner: NewRunner(db, store, flags, catalog.KeywordClassifier{}, dir),
		db:     db,
		store:  store,
		flags:  flags,
		dir:    dir,
	}
}

func (h *harness) seedCatalog(t *testing.T, products []catalog.Product) {
	t.Helper()
	assert.NoError(t, h.store.Save(products))
}

func (h *harness) approveLevel2(t *testing.T) {
	t.Helper()
	err := h.db.Create(&models.Level2Approval{
		ID:               uuid.New(),
		ApprovedBy:       "admin",
		ConfirmationText: "ENABLE LEVEL 2 AUTOHEAL",
		ApprovedAt:       time.Now().UTC(),
	}).Error
	assert.NoError(t, err)
}

func (h *harness) actionCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	assert.NoError(t, h.db.Model(&models.Action{}).Count(&n).Error)
	return n
}

func (h *harness) snapshotCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	assert.NoError(t, h.db.Model(&models.Snapshot{}).Count(&n).Error)
	return n
}

// Ten products, three of which do not belong in a pet store.
func mixedCatalog() []catalog.Product {
	products := []catalog.Product{
		{ID: "np1", Title: "Wireless Earbuds", Active: true},
		{ID: "np2", Title: "Ceramic Coffee Mug", Active: true},
		{ID: "np3", Title: "Desk Lamp", Active: true},
	}
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7"} {
		products = append(products, catalog.Product{ID: id, Title: "Dog Toy " + id, Active: true})
	}
	return products
}

func TestRun_DryRunLeavesEverythingUntouched(t *testing.T) {
	h := newHarness(t)
	h.seedCatalog(t, mixedCatalog())
	before, err := os.ReadFile(h.store.Path())
	assert.NoError(t, err)

	res := h.runner.Run([]string{ActionDisableNonPet}, RunOpts{
		DryRun: true, MaxFixes: 25, Actor: "admin", Level: 1,
	})

	assert.True(t, res.OK)
	assert.True(t, res.DryRun)
	assert.Equal(t, 3, res.TotalChanges)

	after, err := os.ReadFile(h.store.Path())
	assert.NoError(t, err)
	assert.Equal(t, before, after, "dry run must not rewrite the catalog file")
	assert.Zero(t, h.snapshotCount(t), "dry run takes no snapshots")

	var action models.Action
	assert.NoError(t, h.db.First(&action).Error)
	assert.Equal(t, models.ModeDry, action.Mode)
	assert.Equal(t, models.ActionApplied, action.Status)
}

func TestRun_ApplySnapshotsEveryTarget(t *testing.T) {
	h := newHarness(t)
	h.seedCatalog(t, []catalog.Product{
		{ID: "p1", Title: "Dog Bowl", Active: true, Images: []string{"/img/a.jpg"}},
		{ID: "p2", Title: "Cat Post", Active: true, Image: "/img/b.jpg"},
	})

	res := h.runner.Run([]string{ActionRebuildImages}, RunOpts{
		DryRun: false, MaxFixes: 25, Actor: "admin", Level: 2,
	})

	assert.True(t, res.OK)
	assert.Equal(t, 2, res.TotalChanges)
	assert.EqualValues(t, 2, h.snapshotCount(t))

	var action models.Action
	assert.NoError(t, h.db.First(&action).Error)
	assert.Equal(t, 2, action.TargetCount)

	products, err := h.store.Load()
	assert.NoError(t, err)
	assert.Equal(t, "/img/a.jpg", products[0].ResolvedImage)
	assert.Equal(t, "/img/b.jpg", products[1].ResolvedImage)
}

func TestRun_ZeroTargetActionHasNoSnapshots(t *testing.T) {
	h := newHarness(t)
	h.seedCatalog(t, []catalog.Product{})

	res := h.runner.Run([]string{ActionClearCacheReindex}, RunOpts{
		DryRun: false, MaxFixes: 25, Actor: "admin", Level: 2,
	})

	assert.True(t, res.OK)
	assert.Zero(t, res.TotalChanges)
	assert.Zero(t, h.snapshotCount(t))

	var action models.Action
	assert.NoError(t, h.db.First(&action).Error)
	assert.Zero(t, action.TargetCount)
	assert.Equal(t, models.ActionApplied, action.Status)
}

func TestRun_NotAllowListedLeavesNoLedgerRow(t *testing.T) {
	h := newHarness(t)
	h.seedCatalog(t, mixedCatalog())

	res := h.runner.Run([]string{"drop-all-products"}, RunOpts{
		DryRun: false, MaxFixes: 25, Actor: "admin", Level: 2,
	})

	assert.False(t, res.OK)
	assert.Len(t, res.Actions, 1)
	assert.Equal(t, "rejected", res.Actions[0].Status)
	assert.Equal(t, "not_allow_listed", res.Actions[0].Reason)
	assert.Zero(t, h.actionCount(t))
}

func TestRun_ApprovalRequiredForHighRiskApply(t *testing.T) {
	h := newHarness(t)
	h.seedCatalog(t, mixedCatalog())

	res := h.runner.Run([]string{ActionDisableNonPet}, RunOpts{
		DryRun: false, MaxFixes: 25, Actor: "admin", Level: 2,
	})

	assert.False(t, res.OK)
	assert.Equal(t, "rejected", res.Actions[0].Status)
	assert.Equal(t, "approval_required", res.Actions[0].Reason)
	assert.Zero(t, h.actionCount(t))

	h.approveLevel2(t)
	res = h.runner.Run([]string{ActionDisableNonPet}, RunOpts{
		DryRun: false, MaxFixes: 25, Actor: "admin", Level: 2,
	})

	assert.True(t, res.OK)
	assert.Equal(t, 3, res.TotalChanges)

	products, err := h.store.Load()
	assert.NoError(t, err)
	disabled := 0
	for _, p := range products {
		if !p.Active {
			disabled++
		}
	}
	assert.Equal(t, 3, disabled)
}

func TestRun_RevokedApprovalDoesNotCount(t *testing.T) {
	h := newHarness(t)
	h.seedCatalog(t, mixedCatalog())
	revoked := time.Now().UTC()
	err := h.db.Create(&models.Level2Approval{
		ID:               uuid.New(),
		ApprovedBy:       "admin",
		ConfirmationText: "ENABLE LEVEL 2 AUTOHEAL",
		ApprovedAt:       revoked.Add(-time.Hour),
		RevokedAt:        &revoked,
	}).Error
	assert.NoError(t, err)

	res := h.runner.Run([]string{ActionDisableNonPet}, RunOpts{
		DryRun: false, MaxFixes: 25, Actor: "admin", Level: 2,
	})

	assert.Equal(t, "approval_required", res.Actions[0].Reason)
}

func TestRun_MaxFixesBoundsTheWholeRun(t *testing.T) {
	h := newHarness(t)
	products := []catalog.Product{}
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		products = append(products, catalog.Product{
			ID: id, Title: "Dog Bed " + id, Active: true, Images: []string{"/img/" + id + ".jpg"},
		})
	}
	h.seedCatalog(t, products)

	res := h.runner.Run([]string{ActionRebuildImages, ActionRegenerateSEO}, RunOpts{
		DryRun: false, MaxFixes: 2, Actor: "admin", Level: 2,
	})

	assert.Equal(t, 2, res.TotalChanges, "a single oversized action is cut at the budget")
	assert.Len(t, res.Actions, 2)
	assert.Equal(t, models.ActionApplied, res.Actions[0].Status)
	assert.Equal(t, "skipped", res.Actions[1].Status)
	assert.Equal(t, "max_fixes_reached", res.Actions[1].Reason)
	assert.EqualValues(t, 2, h.snapshotCount(t))
}

func TestRun_SharedCorrelationIDAcrossActions(t *testing.T) {
	h := newHarness(t)
	h.seedCatalog(t, []catalog.Product{
		{ID: "p1", Title: "Dog Brush", Active: true, Images: []string{"/img/p1.jpg"}},
	})

	res := h.runner.Run([]string{ActionRebuildImages, ActionClearCacheReindex}, RunOpts{
		DryRun: false, MaxFixes: 25, Actor: "admin", Level: 2,
	})

	assert.True(t, res.OK)
	assert.Len(t, res.ActionIDs, 2)

	var actions []models.Action
	assert.NoError(t, h.db.Find(&actions).Error)
	assert.Len(t, actions, 2)
	assert.Equal(t, res.CorrelationID, actions[0].CorrelationID)
	assert.Equal(t, res.CorrelationID, actions[1].CorrelationID)
}

func TestRun_OneFailureDoesNotAbortTheRest(t *testing.T) {
	h := newHarness(t)
	h.seedCatalog(t, []catalog.Product{
		{ID: "p1", Title: "Dog Harness", Active: true, Images: []string{"/img/p1.jpg"}},
	})

	res := h.runner.Run([]string{"not-a-real-action", ActionRebuildImages}, RunOpts{
		DryRun: false, MaxFixes: 25, Actor: "admin", Level: 2,
	})

	assert.False(t, res.OK)
	assert.Len(t, res.Actions, 2)
	assert.Equal(t, "rejected", res.Actions[0].Status)
	assert.Equal(t, models.ActionApplied, res.Actions[1].Status)
	assert.Equal(t, 1, res.TotalChanges)
}
