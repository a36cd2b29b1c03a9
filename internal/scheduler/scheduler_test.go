package scheduler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/getpawsy/autoheal/internal/catalog"
	"github.com/getpawsy/autoheal/internal/config"
	"github.com/getpawsy/autoheal/internal/database"
	"github.com/getpawsy/autoheal/internal/diagnostics"
	"github.com/getpawsy/autoheal/internal/heal"
	"github.com/getpawsy/autoheal/internal/settings"
	"github.com/getpawsy/autoheal/internal/telemetry"
	"github.com/getpawsy/autoheal/internal/triage"
	"github.com/stretchr/testify/assert"
)

func newTestScheduler(t *testing.T, storeURL string) (*Scheduler, *settings.Store) {
	t.Helper()
	db, err := database.OpenTest()
	assert.NoError(t, err)

	dir := t.TempDir()
	cfg := &config.Config{DataDir: dir, StoreURL: storeURL}
	st := settings.NewStore(dir, false)
	aggregator := telemetry.NewAggregator(dir)
	catalogStore := catalog.NewStore(dir)
	collector := diagnostics.NewCollector(db, catalogStore, diagnostics.NewCounters())
	engine := triage.NewEngine(cfg, collector, diagnostics.NewLogBuffer(), heal.AllowedActionTypes())
	runner := heal.NewRunner(db, catalogStore, catalog.NewFlagStore(dir), catalog.KeywordClassifier{}, dir)
	lock := NewFileLock(dir, minuteTTL)
	tests := NewTestRunner("", 5, dir)

	return New(cfg, st, aggregator, engine, runner, NewProbe(storeURL), tests, lock), st
}

func enable(t *testing.T, st *settings.Store, patch settings.Patch) {
	t.Helper()
	on := true
	patch.Enabled = &on
	_, err := st.Update(patch, "test")
	assert.NoError(t, err)
}

func stepByName(steps []Step, name string) (Step, bool) {
	for _, s := range steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

func TestCycle_SkipsWhenDisabled(t *testing.T) {
	sched, _ := newTestScheduler(t, "http://127.0.0.1:1")

	res := sched.Cycle("manual")

	assert.True(t, res.Skipped)
	assert.Equal(t, SkipDisabled, res.Reason)
	assert.Empty(t, res.Steps)
}

func TestCycle_KillSwitchBeatsEnabled(t *testing.T) {
	sched, st := newTestScheduler(t, "http://127.0.0.1:1")
	kill := true
	enable(t, st, settings.Patch{KillSwitch: &kill})

	res := sched.Cycle("manual")

	assert.True(t, res.Skipped)
	assert.Equal(t, SkipKillSwitch, res.Reason)
}

func TestCycle_DebouncesWithinInterval(t *testing.T) {
	sched, st := newTestScheduler(t, "http://127.0.0.1:1")
	enable(t, st, settings.Patch{})

	base := time.Now()
	sched.now = func() time.Time { return base }
	sched.lastRun.Store(base.Add(-10 * time.Second).Unix())

	res := sched.Cycle("manual")

	assert.True(t, res.Skipped)
	assert.Equal(t, SkipTooSoon, res.Reason)
}

func TestCycle_SkipsWhenLockHeld(t *testing.T) {
	sched, st := newTestScheduler(t, "http://127.0.0.1:1")
	enable(t, st, settings.Patch{})
	assert.True(t, sched.lock.TryAcquire())

	res := sched.Cycle("manual")

	assert.True(t, res.Skipped)
	assert.Equal(t, SkipLockHeld, res.Reason)
}

func TestCycle_RunsStepsAndRecordsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sched, st := newTestScheduler(t, srv.URL)
	enable(t, st, settings.Patch{})

	res := sched.Cycle("manual")

	assert.False(t, res.Skipped)

	health, ok := stepByName(res.Steps, "health_score")
	assert.True(t, ok)
	assert.True(t, health.OK)

	probe, ok := stepByName(res.Steps, "probe")
	assert.True(t, ok)
	assert.True(t, probe.OK)

	// No test command configured: the step fails, the cycle still finishes.
	e2e, ok := stepByName(res.Steps, "e2e_tests")
	assert.True(t, ok)
	assert.False(t, e2e.OK)
	assert.Contains(t, e2e.Error, "test_command_not_configured")

	// No LLM key: triage is skipped, not failed.
	tri, ok := stepByName(res.Steps, "triage")
	assert.True(t, ok)
	assert.True(t, tri.Skipped)

	fixes, ok := stepByName(res.Steps, "apply_safe_fixes")
	assert.True(t, ok)
	assert.True(t, fixes.Skipped)
}

func TestCycle_ProbeFailureIsAStepError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sched, st := newTestScheduler(t, srv.URL)
	enable(t, st, settings.Patch{})

	res := sched.Cycle("manual")

	assert.False(t, res.Skipped)
	probe, ok := stepByName(res.Steps, "probe")
	assert.True(t, ok)
	assert.False(t, probe.OK)
	assert.Contains(t, probe.Error, "probe_failed")
}

func TestCycle_ReleasesLockAfterRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sched, st := newTestScheduler(t, srv.URL)
	enable(t, st, settings.Patch{})

	first := sched.Cycle("manual")
	assert.False(t, first.Skipped)

	// The debounce rejects the follow-up; the lock itself must be free again.
	assert.True(t, sched.lock.TryAcquire())
	sched.lock.Release()
}

func TestTestRunner_NoCommandIsStructuredFailure(t *testing.T) {
	runner := NewTestRunner("", 5, t.TempDir())

	report, err := runner.Run()

	assert.NoError(t, err)
	assert.False(t, report.OK)
	assert.Equal(t, "test_command_not_configured", report.Error)

	last, ok := runner.Last()
	assert.True(t, ok)
	assert.Equal(t, report.Error, last.Error)
}

func TestTestRunner_MissingBinaryIsStructuredFailure(t *testing.T) {
	runner := NewTestRunner("definitely-not-a-real-binary-12345", 5, t.TempDir())

	report, err := runner.Run()

	assert.NoError(t, err)
	assert.False(t, report.OK)
	assert.Contains(t, report.Error, "test_runner_failed")
}

func TestTestRunner_ParsesReport(t *testing.T) {
	runner := NewTestRunner(`echo {"passed":12,"failed":0}`, 5, t.TempDir())

	report, err := runner.Run()

	assert.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, 12, report.Passed)
	assert.Zero(t, report.Failed)
}

func TestTestRunner_FailedTestsNotOK(t *testing.T) {
	runner := NewTestRunner(`echo {"passed":10,"failed":2}`, 5, t.TempDir())

	report, err := runner.Run()

	assert.NoError(t, err)
	assert.False(t, report.OK)
	assert.Equal(t, 2, report.Failed)
}

func TestProbe_RequiresStatus200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up := NewProbe(srv.URL).Run()
	assert.True(t, up.OK)
	assert.Equal(t, http.StatusOK, up.StatusCode)

	down := NewProbe(srv.URL + "/down").Run()
	assert.False(t, down.OK)
	assert.Contains(t, down.Error, "expected 200")
}
