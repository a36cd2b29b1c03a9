package telemetry

// Scoring thresholds and penalties. Kept as constants; the values are policy,
// not derived.
const (
	cartSuccessFloor     = 0.95
	cartSuccessPenalty   = 20
	imageFailureCeiling  = 0.05
	imageFailurePenalty  = 15
	mismatchCeiling      = 10
	mismatchPenalty      = 10
	emptyCategoryPenalty = 10
)

// HealthScore is the 0-100 advisory store health derivation.
type HealthScore struct {
	Score  int      `json:"score"`
	Grade  string   `json:"grade"`
	Issues []string `json:"issues"`
}

// HealthScore derives the score from the trailing 24h summary: start at 100,
// subtract a fixed penalty per crossed threshold, floor at 0.
func (a *Aggregator) HealthScore() HealthScore {
	sum := a.Summarize(24)

	score := 100
	issues := []string{}

	if sum.CartSuccessRate != nil && *sum.CartSuccessRate < cartSuccessFloor {
		score -= cartSuccessPenalty
		issues = append(issues, "cart_success_rate_low")
	}
	if sum.ImageFailureRate != nil && *sum.ImageFailureRate > imageFailureCeiling {
		score -= imageFailurePenalty
		issues = append(issues, "image_failure_rate_high")
	}
	if sum.CartStateMismatches > mismatchCeiling {
		score -= mismatchPenalty
		issues = append(issues, "cart_state_mismatches")
	}
	if sum.EmptyCategories > 0 {
		score -= emptyCategoryPenalty
		issues = append(issues, "empty_categories")
	}
	if score < 0 {
		score = 0
	}

	return HealthScore{Score: score, Grade: grade(score), Issues: issues}
}

func grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	}
	return "F"
}
