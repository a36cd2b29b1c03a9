package scheduler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/getpawsy/autoheal/internal/config"
	"github.com/getpawsy/autoheal/internal/heal"
	"github.com/getpawsy/autoheal/internal/settings"
	"github.com/getpawsy/autoheal/internal/telemetry"
	"github.com/getpawsy/autoheal/internal/triage"
)

// Cycle skip reasons.
const (
	SkipDisabled   = "disabled"
	SkipKillSwitch = "kill_switch"
	SkipTooSoon    = "too_soon"
	SkipLockHeld   = "lock_held"
	SkipRunning    = "already_running"
)

// Step is one entry of a cycle's step log.
type Step struct {
	Name       string      `json:"name"`
	OK         bool        `json:"ok"`
	Skipped    bool        `json:"skipped,omitempty"`
	Error      string      `json:"error,omitempty"`
	Detail     interface{} `json:"detail,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// CycleResult reports one cycle. A skipped cycle carries only the reason.
type CycleResult struct {
	Skipped   bool      `json:"skipped"`
	Reason    string    `json:"reason,omitempty"`
	Steps     []Step    `json:"steps,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Trigger   string    `json:"trigger"`
}

// Scheduler owns cadence and sequences one cycle: health score, probe, e2e
// tests, triage, and bounded safe-fix application. Mutual exclusion is
// two-layer — an in-process flag and the cross-process file lock.
type Scheduler struct {
	cfg       *config.Config
	settings  *settings.Store
	telemetry *telemetry.Aggregator
	triage    *triage.Engine
	runner    *heal.Runner
	probe     *Probe
	tests     *TestRunner
	lock      *FileLock

	isRunning atomic.Bool
	paused    atomic.Bool
	lastRun   atomic.Int64 // unix seconds of the last non-skipped cycle

	stop chan struct{}
	now  func() time.Time
}

func New(cfg *config.Config, st *settings.Store, tel *telemetry.Aggregator, tri *triage.Engine, runner *heal.Runner, probe *Probe, tests *TestRunner, lock *FileLock) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		settings:  st,
		telemetry: tel,
		triage:    tri,
		runner:    runner,
		probe:     probe,
		tests:     tests,
		lock:      lock,
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

func (s *Scheduler) Start() {
	go s.loop()
	slog.Info("AutoHeal scheduler started")
}

func (s *Scheduler) Stop() {
	close(s.stop)
	slog.Info("AutoHeal scheduler stopped")
}

// Pause suspends timer-driven cycles without tearing down the loop; the kill
// switch handler uses it to halt the scheduler the moment the switch flips.
func (s *Scheduler) Pause(paused bool) {
	s.paused.Store(paused)
	slog.Info("AutoHeal scheduler pause state changed", "paused", paused)
}

func (s *Scheduler) loop() {
	// Re-arm each pass so interval changes take effect without a restart.
	for {
		interval := time.Duration(s.settings.Effective().IntervalSeconds) * time.Second
		select {
		case <-time.After(interval):
			if !s.paused.Load() {
				s.Cycle("timer")
			}
		case <-s.stop:
			return
		}
	}
}

// Cycle runs one pass. It never panics or errors past this boundary; every
// step failure lands in the step log and the cycle moves on.
func (s *Scheduler) Cycle(trigger string) (result CycleResult) {
	result = CycleResult{StartedAt: s.now().UTC(), Trigger: trigger}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Cycle panic recovered", "panic", fmt.Sprint(r))
			result.Steps = append(result.Steps, Step{Name: "cycle", Error: fmt.Sprint(r)})
		}
	}()

	eff := s.settings.Effective()
	if eff.KillSwitch {
		result.Skipped, result.Reason = true, SkipKillSwitch
		return result
	}
	if !eff.Enabled {
		result.Skipped, result.Reason = true, SkipDisabled
		return result
	}

	// Debounce manual triggers against the cadence.
	if last := s.lastRun.Load(); last > 0 {
		if s.now().Unix()-last < int64(eff.IntervalSeconds) {
			result.Skipped, result.Reason = true, SkipTooSoon
			return result
		}
	}

	if !s.lock.TryAcquire() {
		result.Skipped, result.Reason = true, SkipLockHeld
		return result
	}
	defer s.lock.Release()

	if !s.isRunning.CompareAndSwap(false, true) {
		result.Skipped, result.Reason = true, SkipRunning
		return result
	}
	defer s.isRunning.Store(false)

	s.lastRun.Store(s.now().Unix())
	slog.Info("AutoHeal cycle starting", "trigger", trigger, "level", eff.Level)

	result.Steps = append(result.Steps, s.step("health_score", func() (interface{}, error) {
		return s.telemetry.HealthScore(), nil
	}))

	if eff.ProbeBrowser {
		result.Steps = append(result.Steps, s.step("probe", func() (interface{}, error) {
			res := s.probe.Run()
			if !res.OK {
				return res, fmt.Errorf("probe_failed: %s", res.Error)
			}
			return res, nil
		}))
	} else {
		result.Steps = append(result.Steps, Step{Name: "probe", Skipped: true})
	}

	if !eff.DeploymentLockdown {
		result.Steps = append(result.Steps, s.step("e2e_tests", func() (interface{}, error) {
			report, err := s.tests.Run()
			if err != nil {
				return nil, err
			}
			if report.Error != "" {
				return report, fmt.Errorf("%s", report.Error)
			}
			return report, nil
		}))
	} else {
		result.Steps = append(result.Steps, Step{Name: "e2e_tests", Skipped: true})
	}

	var plan *triage.Plan
	if eff.Level >= 1 && s.cfg.LLMAPIKey != "" {
		result.Steps = append(result.Steps, s.step("triage", func() (interface{}, error) {
			res := s.triage.Run("scheduled cycle")
			if !res.OK {
				return res, fmt.Errorf("%s", res.Error)
			}
			plan = res.Plan
			return res, nil
		}))
	} else {
		result.Steps = append(result.Steps, Step{Name: "triage", Skipped: true})
	}

	if plan != nil && len(plan.SafeFixes) > 0 && eff.Level >= 1 {
		result.Steps = append(result.Steps, s.step("apply_safe_fixes", func() (interface{}, error) {
			run := s.runner.Run(plan.SafeFixes, heal.RunOpts{
				DryRun:      !s.settings.CanApplyFixes().Allowed,
				MaxFixes:    eff.MaxChangesPerRun,
				MaxProducts: eff.MaxProductsPerRun,
				Actor:       "scheduler",
				Level:       eff.Level,
			})
			if !run.OK {
				return run, fmt.Errorf("fix_run_errors: %d", len(run.Errors))
			}
			return run, nil
		}))
	} else {
		result.Steps = append(result.Steps, Step{Name: "apply_safe_fixes", Skipped: true})
	}

	if data, err := json.Marshal(result.Steps); err == nil {
		slog.Info("AutoHeal cycle finished", "trigger", trigger, "steps", string(data))
	}
	return result
}

func (s *Scheduler) step(name string, fn func() (interface{}, error)) Step {
	start := s.now()
	detail, err := fn()
	st := Step{
		Name:       name,
		Detail:     detail,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		st.Error = err.Error()
		slog.Warn("Cycle step failed", "step", name, "error", err)
	} else {
		st.OK = true
	}
	return st
}
