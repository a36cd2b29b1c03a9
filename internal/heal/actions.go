package heal

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/getpawsy/autoheal/internal/catalog"
)

// PlaceholderImage is the terminal entry of the image fallback chain.
const PlaceholderImage = "/img/placeholder-pet.png"

// RemoteImageFallbackFlag is the feature flag flipped by
// enable-remote-image-fallback.
const RemoteImageFallbackFlag = "remote_image_fallback"

// CacheFiles is the fixed set clear-cache-reindex removes, relative to the
// data dir. They are rebuilt lazily by the storefront engines.
var CacheFiles = []string{
	"cache/homepage.json",
	"cache/categories.json",
	"cache/search_index.json",
}

// Target names one row an action will touch, with its pre-image. The runner
// turns targets into Snapshot rows before Apply mutates anything.
type Target struct {
	Table  string
	Key    string
	Before json.RawMessage
}

// ActionPlan is the pure output of Handler.Plan: what would change, without
// changing it.
type ActionPlan struct {
	Targets []Target `json:"-"`
	Changes int      `json:"changes"`
	Details []string `json:"details"` // affected row keys / file names
	Notes   string   `json:"notes,omitempty"`
}

// RunContext is the mutable state one run threads through its actions. The
// catalog document is shared so later actions observe earlier mutations.
type RunContext struct {
	Products   []catalog.Product
	Classifier catalog.PetClassifier
	Flags      *catalog.FlagStore
	DataDir    string

	MaxProducts int

	CatalogDirty bool
}

func (rc *RunContext) product(id string) *catalog.Product {
	for i := range rc.Products {
		if rc.Products[i].ID == id {
			return &rc.Products[i]
		}
	}
	return nil
}

// Handler is the uniform contract for one action type: a pure Plan followed
// by an Apply restricted to the planned targets. All transforms are
// idempotent; planning against conforming data yields zero changes.
type Handler interface {
	Type() string
	Plan(rc *RunContext) (*ActionPlan, error)
	Apply(rc *RunContext, plan *ActionPlan) (int, error)
}

var registry = map[string]Handler{}

func register(h Handler) {
	registry[h.Type()] = h
}

func init() {
	register(disableNonPet{})
	register(reassignCategory{})
	register(rebuildImages{})
	register(enableImageFallback{})
	register(regenerateSEO{})
	register(recalcPrices{})
	register(clearCache{})
}

// handlerFor returns the registered handler for an action type.
func handlerFor(actionType string) (Handler, bool) {
	h, ok := registry[actionType]
	return h, ok
}

func productTarget(p *catalog.Product) Target {
	before, _ := json.Marshal(p)
	return Target{Table: "products", Key: p.ID, Before: before}
}

// capTargets enforces the per-run product quota on a planned target list.
func capTargets(rc *RunContext, plan *ActionPlan) {
	if rc.MaxProducts <= 0 || len(plan.Targets) <= rc.MaxProducts {
		return
	}
	plan.Targets = plan.Targets[:rc.MaxProducts]
	plan.Details = plan.Details[:rc.MaxProducts]
	plan.Changes = len(plan.Targets)
	plan.Notes = "truncated to max_products_per_run"
}

// ─── disable-non-pet-products ───────────────────────────────────────────────

type disableNonPet struct{}

func (disableNonPet) Type() string { return ActionDisableNonPet }

func (disableNonPet) Plan(rc *RunContext) (*ActionPlan, error) {
	if rc.Classifier == nil {
		return nil, fmt.Errorf("classifier_unavailable")
	}
	plan := &ActionPlan{Details: []string{}}
	for i := range rc.Products {
		p := &rc.Products[i]
		if p.Active && !rc.Classifier.Eligible(*p) {
			plan.Targets = append(plan.Targets, productTarget(p))
			plan.Details = append(plan.Details, p.ID)
		}
	}
	plan.Changes = len(plan.Targets)
	capTargets(rc, plan)
	return plan, nil
}

func (disableNonPet) Apply(rc *RunContext, plan *ActionPlan) (int, error) {
	changes := 0
	for _, t := range plan.Targets {
		if p := rc.product(t.Key); p != nil && p.Active {
			p.Active = false
			changes++
		}
	}
	if changes > 0 {
		rc.CatalogDirty = true
	}
	return changes, nil
}

// ─── reassign-category ──────────────────────────────────────────────────────

type reassignCategory struct{}

func (reassignCategory) Type() string { return ActionReassignCategory }

func matchesBlacklist(p catalog.Product) bool {
	text := strings.ToLower(p.Title + " " + p.Description + " " + p.Category)
	for _, term := range catalog.NonPetCategoryTerms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func (reassignCategory) Plan(rc *RunContext) (*ActionPlan, error) {
	plan := &ActionPlan{Details: []string{}}
	for i := range rc.Products {
		p := &rc.Products[i]
		if p.Active && matchesBlacklist(*p) {
			plan.Targets = append(plan.Targets, productTarget(p))
			plan.Details = append(plan.Details, p.ID)
		}
	}
	plan.Changes = len(plan.Targets)
	capTargets(rc, plan)
	return plan, nil
}

func (reassignCategory) Apply(rc *RunContext, plan *ActionPlan) (int, error) {
	changes := 0
	for _, t := range plan.Targets {
		if p := rc.product(t.Key); p != nil && p.Active {
			p.Active = false
			changes++
		}
	}
	if changes > 0 {
		rc.CatalogDirty = true
	}
	return changes, nil
}

// ─── rebuild-resolved-images ────────────────────────────────────────────────

type rebuildImages struct{}

func (rebuildImages) Type() string { return ActionRebuildImages }

// ResolveImage walks the ordered fallback chain for one product.
func ResolveImage(p catalog.Product) string {
	switch {
	case len(p.Images) > 0 && p.Images[0] != "":
		return p.Images[0]
	case len(p.Thumbnails) > 0 && p.Thumbnails[0] != "":
		return p.Thumbnails[0]
	case p.Image != "":
		return p.Image
	case p.ImageURL != "":
		return p.ImageURL
	case p.VendorImage != "":
		return p.VendorImage
	}
	return PlaceholderImage
}

func (rebuildImages) Plan(rc *RunContext) (*ActionPlan, error) {
	plan := &ActionPlan{Details: []string{}}
	for i := range rc.Products {
		p := &rc.Products[i]
		if ResolveImage(*p) != p.ResolvedImage {
			plan.Targets = append(plan.Targets, productTarget(p))
			plan.Details = append(plan.Details, p.ID)
		}
	}
	plan.Changes = len(plan.Targets)
	capTargets(rc, plan)
	return plan, nil
}

func (rebuildImages) Apply(rc *RunContext, plan *ActionPlan) (int, error) {
	changes := 0
	for _, t := range plan.Targets {
		p := rc.product(t.Key)
		if p == nil {
			continue
		}
		if resolved := ResolveImage(*p); resolved != p.ResolvedImage {
			p.ResolvedImage = resolved
			changes++
		}
	}
	if changes > 0 {
		rc.CatalogDirty = true
	}
	return changes, nil
}

// ─── enable-remote-image-fallback ───────────────────────────────────────────

type enableImageFallback struct{}

func (enableImageFallback) Type() string { return ActionEnableImageFallback }

func (enableImageFallback) Plan(rc *RunContext) (*ActionPlan, error) {
	plan := &ActionPlan{Details: []string{}}
	if rc.Flags.Get(RemoteImageFallbackFlag) {
		return plan, nil // already enabled
	}
	before, _ := json.Marshal(map[string]bool{"value": false})
	plan.Targets = append(plan.Targets, Target{
		Table:  "feature_flags",
		Key:    RemoteImageFallbackFlag,
		Before: before,
	})
	plan.Details = append(plan.Details, RemoteImageFallbackFlag)
	plan.Changes = 1
	return plan, nil
}

func (enableImageFallback) Apply(rc *RunContext, plan *ActionPlan) (int, error) {
	if len(plan.Targets) == 0 {
		return 0, nil
	}
	if err := rc.Flags.Set(RemoteImageFallbackFlag, true); err != nil {
		return 0, err
	}
	return 1, nil
}

// ─── regenerate-seo-for-missing ─────────────────────────────────────────────

type regenerateSEO struct{}

func (regenerateSEO) Type() string { return ActionRegenerateSEO }

const minDescriptionLen = 40

func seoQueuePath(dataDir string) string {
	return filepath.Join(dataDir, "autoheal", "seo_queue.json")
}

func (regenerateSEO) Plan(rc *RunContext) (*ActionPlan, error) {
	queued := map[string]bool{}
	if data, err := os.ReadFile(seoQueuePath(rc.DataDir)); err == nil {
		var ids []string
		if json.Unmarshal(data, &ids) == nil {
			for _, id := range ids {
				queued[id] = true
			}
		}
	}

	plan := &ActionPlan{Details: []string{}}
	for _, p := range rc.Products {
		if len(strings.TrimSpace(p.Description)) >= minDescriptionLen {
			continue
		}
		if queued[p.ID] {
			continue
		}
		plan.Details = append(plan.Details, p.ID)
	}
	plan.Changes = len(plan.Details)
	return plan, nil
}

func (regenerateSEO) Apply(rc *RunContext, plan *ActionPlan) (int, error) {
	if len(plan.Details) == 0 {
		return 0, nil
	}
	path := seoQueuePath(rc.DataDir)

	var ids []string
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &ids)
	}
	ids = append(ids, plan.Details...)

	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("write seo queue: %w", err)
	}
	return len(plan.Details), nil
}

// ─── recalc-prices ──────────────────────────────────────────────────────────

type recalcPrices struct{}

func (recalcPrices) Type() string { return ActionRecalcPrices }

const minMargin = 0.10

// targetPrice raises a below-margin price to cost*1.5, rounded up to the cent.
func targetPrice(cost float64) float64 {
	return math.Ceil(cost*1.5*100) / 100
}

func belowMargin(p catalog.Product) bool {
	if p.Cost <= 0 {
		return false
	}
	return (p.Price-p.Cost)/p.Cost < minMargin
}

func (recalcPrices) Plan(rc *RunContext) (*ActionPlan, error) {
	plan := &ActionPlan{Details: []string{}}
	for i := range rc.Products {
		p := &rc.Products[i]
		if belowMargin(*p) {
			plan.Targets = append(plan.Targets, productTarget(p))
			plan.Details = append(plan.Details, p.ID)
		}
	}
	plan.Changes = len(plan.Targets)
	capTargets(rc, plan)
	return plan, nil
}

func (recalcPrices) Apply(rc *RunContext, plan *ActionPlan) (int, error) {
	changes := 0
	for _, t := range plan.Targets {
		p := rc.product(t.Key)
		if p == nil || !belowMargin(*p) {
			continue
		}
		p.OriginalPrice = p.Price
		p.Price = targetPrice(p.Cost)
		changes++
	}
	if changes > 0 {
		rc.CatalogDirty = true
	}
	return changes, nil
}

// ─── clear-cache-reindex ────────────────────────────────────────────────────

type clearCache struct{}

func (clearCache) Type() string { return ActionClearCacheReindex }

func (clearCache) Plan(rc *RunContext) (*ActionPlan, error) {
	plan := &ActionPlan{Details: []string{}}
	for _, rel := range CacheFiles {
		path := filepath.Join(rc.DataDir, rel)
		if _, err := os.Stat(path); err == nil {
			plan.Details = append(plan.Details, rel)
		}
	}
	plan.Changes = len(plan.Details)
	return plan, nil
}

func (clearCache) Apply(rc *RunContext, plan *ActionPlan) (int, error) {
	changes := 0
	for _, rel := range plan.Details {
		path := filepath.Join(rc.DataDir, rel)
		if err := os.Remove(path); err == nil {
			changes++
		}
	}
	return changes, nil
}
