package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestAggregator(t *testing.T, at time.Time) *Aggregator {
	a := NewAggregator(t.TempDir())
	a.now = func() time.Time { return at }
	return a
}

func record(t *testing.T, a *Aggregator, event string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		res := a.Record(event, nil)
		assert.True(t, res.OK)
	}
}

func TestRecord_RejectsUnknownEvent(t *testing.T) {
	a := newTestAggregator(t, time.Now())

	res := a.Record("checkout_completed", nil)

	assert.False(t, res.OK)
	assert.Equal(t, "INVALID_EVENT_TYPE", res.Error)
	assert.Empty(t, a.Totals())
}

func TestRecord_SampleMetadataCapped(t *testing.T) {
	now := time.Now()
	a := newTestAggregator(t, now)
	for i := 0; i < 8; i++ {
		a.Record("image_render_failed", map[string]interface{}{"src": "cdn.example/x.jpg"})
	}

	key := now.UTC().Format(hourKeyFormat)
	ec := a.state.Buckets[key]["image_render_failed"]

	assert.Equal(t, 8, ec.Count)
	assert.Len(t, ec.Samples, samplesPerName)
}

func TestSummarize_RatesNilWithoutDenominator(t *testing.T) {
	a := newTestAggregator(t, time.Now())
	record(t, a, "cart_state_mismatch", 3)

	sum := a.Summarize(24)

	assert.Nil(t, sum.CartSuccessRate)
	assert.Nil(t, sum.ImageFailureRate)
	assert.Equal(t, 3, sum.CartStateMismatches)
}

func TestSummarize_WindowExcludesOldBuckets(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := newTestAggregator(t, base)
	record(t, a, "page_load", 5)

	a.now = func() time.Time { return base.Add(30 * time.Hour) }
	record(t, a, "page_load", 2)

	assert.Equal(t, 2, a.Summarize(24).Counts["page_load"])
	assert.Equal(t, int64(7), a.Totals()["page_load"])
}

func TestSummarize_CartRates(t *testing.T) {
	a := newTestAggregator(t, time.Now())
	record(t, a, "add_to_cart_clicked", 20)
	record(t, a, "add_to_cart_ok", 18)

	sum := a.Summarize(24)

	assert.NotNil(t, sum.CartSuccessRate)
	assert.InDelta(t, 0.9, *sum.CartSuccessRate, 1e-9)
	assert.InDelta(t, 0.1, *sum.CartFailureRate, 1e-9)
}

func TestHealthScore_PerfectByDefault(t *testing.T) {
	a := newTestAggregator(t, time.Now())

	hs := a.HealthScore()

	assert.Equal(t, 100, hs.Score)
	assert.Equal(t, "A", hs.Grade)
	assert.Empty(t, hs.Issues)
}

func TestHealthScore_CartPenalty(t *testing.T) {
	a := newTestAggregator(t, time.Now())
	record(t, a, "add_to_cart_clicked", 100)
	record(t, a, "add_to_cart_ok", 90)

	hs := a.HealthScore()

	assert.Equal(t, 80, hs.Score)
	assert.Equal(t, "B", hs.Grade)
	assert.Contains(t, hs.Issues, "cart_success_rate_low")
}

func TestHealthScore_AllPenaltiesStack(t *testing.T) {
	a := newTestAggregator(t, time.Now())
	record(t, a, "add_to_cart_clicked", 100)
	record(t, a, "add_to_cart_ok", 50)
	record(t, a, "page_load", 100)
	record(t, a, "image_render_failed", 10)
	record(t, a, "cart_state_mismatch", 11)
	record(t, a, "empty_category", 1)

	hs := a.HealthScore()

	assert.Equal(t, 45, hs.Score)
	assert.Equal(t, "F", hs.Grade)
	assert.Len(t, hs.Issues, 4)
}

func TestHealthScore_BoundaryRatesDoNotPenalize(t *testing.T) {
	a := newTestAggregator(t, time.Now())
	record(t, a, "add_to_cart_clicked", 100)
	record(t, a, "add_to_cart_ok", 95)
	record(t, a, "page_load", 100)
	record(t, a, "image_render_failed", 5)
	record(t, a, "cart_state_mismatch", 10)

	hs := a.HealthScore()

	assert.Equal(t, 100, hs.Score)
	assert.Equal(t, "A", hs.Grade)
}

func TestPrune_KeepsNewestBuckets(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := newTestAggregator(t, base)
	for h := 0; h < bucketWindow+10; h++ {
		at := base.Add(time.Duration(h) * time.Hour)
		a.now = func() time.Time { return at }
		a.Record("page_load", nil)
	}

	assert.Len(t, a.state.Buckets, bucketWindow)
	oldest := base.UTC().Format(hourKeyFormat)
	assert.NotContains(t, a.state.Buckets, oldest)
}
