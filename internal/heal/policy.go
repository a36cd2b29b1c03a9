package heal

import "sort"

// Action type names. The registry in actions.go implements one handler per
// type; the policy below is the allow-list the runner enforces.
const (
	ActionDisableNonPet       = "disable-non-pet-products"
	ActionReassignCategory    = "reassign-category"
	ActionRebuildImages       = "rebuild-resolved-images"
	ActionEnableImageFallback = "enable-remote-image-fallback"
	ActionRegenerateSEO       = "regenerate-seo-for-missing"
	ActionRecalcPrices        = "recalc-prices"
	ActionClearCacheReindex   = "clear-cache-reindex"
)

// PolicyRule is one allow-list entry. Loaded from static configuration, never
// mutated at runtime.
type PolicyRule struct {
	ActionType       string `json:"action_type"`
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	RiskTier         int    `json:"risk_tier"` // 1 low, 2 medium, 3 high
}

var policy = map[string]PolicyRule{
	ActionRebuildImages:       {ActionType: ActionRebuildImages, Allowed: true, RiskTier: 1},
	ActionEnableImageFallback: {ActionType: ActionEnableImageFallback, Allowed: true, RiskTier: 1},
	ActionRegenerateSEO:       {ActionType: ActionRegenerateSEO, Allowed: true, RiskTier: 1},
	ActionClearCacheReindex:   {ActionType: ActionClearCacheReindex, Allowed: true, RiskTier: 1},
	ActionReassignCategory:    {ActionType: ActionReassignCategory, Allowed: true, RiskTier: 2},
	ActionDisableNonPet:       {ActionType: ActionDisableNonPet, Allowed: true, RequiresApproval: true, RiskTier: 3},
	ActionRecalcPrices:        {ActionType: ActionRecalcPrices, Allowed: true, RequiresApproval: true, RiskTier: 3},
}

// LookupPolicy returns the rule for an action type. Unknown types get a
// zero-value rule with Allowed=false.
func LookupPolicy(actionType string) PolicyRule {
	return policy[actionType]
}

// AllowedActionTypes lists every allow-listed type, sorted. The triage engine
// advertises these to the LLM as valid safe-fix candidates.
func AllowedActionTypes() []string {
	out := make([]string, 0, len(policy))
	for t, rule := range policy {
		if rule.Allowed {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
