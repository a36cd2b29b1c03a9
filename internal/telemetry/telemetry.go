package telemetry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	bucketWindow   = 48 // hourly buckets kept
	samplesPerName = 5
	hourKeyFormat  = "2006-01-02T15"
)

// Event names the storefront is allowed to report.
var knownEvents = map[string]bool{
	"page_load":           true,
	"add_to_cart_clicked": true,
	"add_to_cart_ok":      true,
	"add_to_cart_failed":  true,
	"image_render_failed": true,
	"cart_state_mismatch": true,
	"pdp_not_found":       true,
	"empty_category":      true,
}

type eventCount struct {
	Count   int                      `json:"count"`
	Samples []map[string]interface{} `json:"samples,omitempty"`
}

type bucket map[string]*eventCount

type fileState struct {
	Buckets map[string]bucket `json:"buckets"`
	Totals  map[string]int64  `json:"totals"`
}

// RecordResult reports whether an event was accepted.
type RecordResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Summary is the windowed aggregation the health score and alerting read.
type Summary struct {
	HoursBack           int            `json:"hours_back"`
	Counts              map[string]int `json:"counts"`
	CartSuccessRate     *float64       `json:"cart_success_rate"` // nil when no clicks
	CartFailureRate     *float64       `json:"cart_failure_rate"`
	ImageFailureRate    *float64       `json:"image_failure_rate"` // nil when no page loads
	CartStateMismatches int            `json:"cart_state_mismatches"`
	EmptyCategories     int            `json:"empty_categories"`
}

// Aggregator ingests discrete client/server events into hourly buckets,
// persisted to one JSON file. Writes are not transactional with respect to
// reads; the score derived from them is advisory.
type Aggregator struct {
	path string

	mu    sync.Mutex
	state *fileState
	now   func() time.Time
}

func NewAggregator(dataDir string) *Aggregator {
	return &Aggregator{
		path: filepath.Join(dataDir, "autoheal", "telemetry.json"),
		now:  time.Now,
	}
}

func (a *Aggregator) load() *fileState {
	if a.state != nil {
		return a.state
	}
	st := &fileState{Buckets: map[string]bucket{}, Totals: map[string]int64{}}
	if data, err := os.ReadFile(a.path); err == nil {
		if err := json.Unmarshal(data, st); err != nil {
			slog.Warn("Telemetry file unparsable, starting fresh", "error", err)
			st = &fileState{Buckets: map[string]bucket{}, Totals: map[string]int64{}}
		}
	}
	if st.Buckets == nil {
		st.Buckets = map[string]bucket{}
	}
	if st.Totals == nil {
		st.Totals = map[string]int64{}
	}
	a.state = st
	return st
}

// Record increments the current hour's bucket for a known event and persists.
// Unknown event names are rejected with INVALID_EVENT_TYPE, never an error.
func (a *Aggregator) Record(eventName string, metadata map[string]interface{}) RecordResult {
	if !knownEvents[eventName] {
		return RecordResult{OK: false, Error: "INVALID_EVENT_TYPE"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.load()
	key := a.now().UTC().Format(hourKeyFormat)
	b, ok := st.Buckets[key]
	if !ok {
		b = bucket{}
		st.Buckets[key] = b
	}
	ec, ok := b[eventName]
	if !ok {
		ec = &eventCount{}
		b[eventName] = ec
	}
	ec.Count++
	if metadata != nil && len(ec.Samples) < samplesPerName {
		ec.Samples = append(ec.Samples, metadata)
	}
	st.Totals[eventName]++

	a.prune(st)
	if err := a.persist(st); err != nil {
		slog.Warn("Telemetry persist failed", "error", err)
	}
	return RecordResult{OK: true}
}

func (a *Aggregator) prune(st *fileState) {
	if len(st.Buckets) <= bucketWindow {
		return
	}
	keys := make([]string, 0, len(st.Buckets))
	for k := range st.Buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[:len(keys)-bucketWindow] {
		delete(st.Buckets, k)
	}
}

func (a *Aggregator) persist(st *fileState) error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return os.WriteFile(a.path, data, 0o644)
}

// Summarize sums buckets over the trailing window and derives rates.
func (a *Aggregator) Summarize(hoursBack int) Summary {
	if hoursBack < 1 {
		hoursBack = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.load()
	counts := map[string]int{}
	cutoff := a.now().UTC().Add(-time.Duration(hoursBack) * time.Hour).Format(hourKeyFormat)
	for key, b := range st.Buckets {
		if key < cutoff {
			continue
		}
		for name, ec := range b {
			counts[name] += ec.Count
		}
	}

	sum := Summary{
		HoursBack:           hoursBack,
		Counts:              counts,
		CartStateMismatches: counts["cart_state_mismatch"],
		EmptyCategories:     counts["empty_category"],
	}

	if clicks := counts["add_to_cart_clicked"]; clicks > 0 {
		rate := float64(counts["add_to_cart_ok"]) / float64(clicks)
		fail := 1 - rate
		sum.CartSuccessRate = &rate
		sum.CartFailureRate = &fail
	}
	if loads := counts["page_load"]; loads > 0 {
		rate := float64(counts["image_render_failed"]) / float64(loads)
		sum.ImageFailureRate = &rate
	}
	return sum
}

// Totals returns lifetime per-event counts.
func (a *Aggregator) Totals() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.load()
	out := make(map[string]int64, len(st.Totals))
	for k, v := range st.Totals {
		out[k] = v
	}
	return out
}
