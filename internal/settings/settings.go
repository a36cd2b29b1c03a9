package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Settings are the user-configured knobs, persisted as one JSON file.
type Settings struct {
	Enabled           bool      `json:"enabled"`
	Level             int       `json:"level"` // 0 observe, 1 safe fixes, 2 high risk
	KillSwitch        bool      `json:"kill_switch"`
	IntervalSeconds   int       `json:"interval_seconds"`
	MaxChangesPerRun  int       `json:"max_changes_per_run"`
	MaxProductsPerRun int       `json:"max_products_per_run"`
	AllowApply        bool      `json:"allow_apply"`
	ProbeBrowser      bool      `json:"probe_browser"`
	UpdatedBy         string    `json:"updated_by,omitempty"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

// EffectiveConfig is the resolved runtime policy: stored settings merged with
// the deployment lockdown and validated environment overrides. Derived on
// every read, never persisted.
type EffectiveConfig struct {
	Enabled            bool `json:"enabled"`
	Level              int  `json:"level"`
	KillSwitch         bool `json:"kill_switch"`
	IntervalSeconds    int  `json:"interval_seconds"`
	MaxChangesPerRun   int  `json:"max_changes_per_run"`
	MaxProductsPerRun  int  `json:"max_products_per_run"`
	AllowApply         bool `json:"allow_apply"`
	ProbeBrowser       bool `json:"probe_browser"`
	DeploymentLockdown bool `json:"deployment_lockdown"`
}

// ApplyGate is the canApplyFixes verdict.
type ApplyGate struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func defaults() Settings {
	return Settings{
		Enabled:           false,
		Level:             0,
		IntervalSeconds:   300,
		MaxChangesPerRun:  25,
		MaxProductsPerRun: 100,
		ProbeBrowser:      true,
	}
}

// Store caches the settings file and derives EffectiveConfig.
type Store struct {
	path       string
	deployment bool

	mu     sync.RWMutex
	cached *Settings
}

func NewStore(dataDir string, deployment bool) *Store {
	return &Store{
		path:       filepath.Join(dataDir, "autoheal", "settings.json"),
		deployment: deployment,
	}
}

// Get returns the cached settings, lazily loading them from disk. Any read
// failure degrades to hard-coded defaults.
func (s *Store) Get() Settings {
	s.mu.RLock()
	if s.cached != nil {
		out := *s.cached
		s.mu.RUnlock()
		return out
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return *s.cached
	}

	loaded := defaults()
	if data, err := os.ReadFile(s.path); err == nil {
		if err := json.Unmarshal(data, &loaded); err != nil {
			slog.Warn("Settings file unparsable, using defaults", "path", s.path, "error", err)
			loaded = defaults()
		}
	} else if !os.IsNotExist(err) {
		slog.Warn("Settings file unreadable, using defaults", "path", s.path, "error", err)
	}
	s.cached = &loaded
	return loaded
}

// Patch carries an update request; nil fields are left untouched.
type Patch struct {
	Enabled           *bool `json:"enabled"`
	Level             *int  `json:"level"`
	KillSwitch        *bool `json:"kill_switch"`
	IntervalSeconds   *int  `json:"interval_seconds"`
	MaxChangesPerRun  *int  `json:"max_changes_per_run"`
	MaxProductsPerRun *int  `json:"max_products_per_run"`
	AllowApply        *bool `json:"allow_apply"`
	ProbeBrowser      *bool `json:"probe_browser"`
}

// Update validates and clamps the patch, persists, and refreshes the cache.
func (s *Store) Update(patch Patch, actor string) (Settings, error) {
	cur := s.Get()

	if patch.Enabled != nil {
		cur.Enabled = *patch.Enabled
	}
	if patch.Level != nil {
		cur.Level = clamp(*patch.Level, 0, 2)
	}
	if patch.KillSwitch != nil {
		cur.KillSwitch = *patch.KillSwitch
	}
	if patch.IntervalSeconds != nil {
		cur.IntervalSeconds = atLeast(*patch.IntervalSeconds, 1)
	}
	if patch.MaxChangesPerRun != nil {
		cur.MaxChangesPerRun = atLeast(*patch.MaxChangesPerRun, 1)
	}
	if patch.MaxProductsPerRun != nil {
		cur.MaxProductsPerRun = atLeast(*patch.MaxProductsPerRun, 1)
	}
	if patch.AllowApply != nil {
		cur.AllowApply = *patch.AllowApply
	}
	if patch.ProbeBrowser != nil {
		cur.ProbeBrowser = *patch.ProbeBrowser
	}
	cur.UpdatedBy = actor
	cur.UpdatedAt = time.Now().UTC()

	if err := s.persist(cur); err != nil {
		return cur, err
	}

	s.mu.Lock()
	s.cached = &cur
	s.mu.Unlock()
	return cur, nil
}

func (s *Store) persist(cur Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings dir: %w", err)
	}
	data, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Effective merges, in priority order: deployment lockdown, kill switch, and
// individually-validated environment overrides. It never fails; any problem
// degrades toward the disabled, level-0 end of the policy.
func (s *Store) Effective() EffectiveConfig {
	cur := s.Get()

	eff := EffectiveConfig{
		Enabled:           cur.Enabled,
		Level:             cur.Level,
		KillSwitch:        cur.KillSwitch,
		IntervalSeconds:   cur.IntervalSeconds,
		MaxChangesPerRun:  cur.MaxChangesPerRun,
		MaxProductsPerRun: cur.MaxProductsPerRun,
		AllowApply:        cur.AllowApply,
		ProbeBrowser:      cur.ProbeBrowser,
	}

	// Env overrides; malformed values are ignored, not fatal.
	if v, ok := envBool("AUTOHEAL_ENABLED"); ok {
		eff.Enabled = v
	}
	if v, ok := envInt("AUTOHEAL_LEVEL"); ok {
		eff.Level = clamp(v, 0, 2)
	}
	if v, ok := envInt("AUTOHEAL_INTERVAL_SECONDS"); ok && v >= 1 {
		eff.IntervalSeconds = v
	}
	if v, ok := envInt("AUTOHEAL_MAX_CHANGES_PER_RUN"); ok && v >= 1 {
		eff.MaxChangesPerRun = v
	}
	if v, ok := envInt("AUTOHEAL_MAX_PRODUCTS_PER_RUN"); ok && v >= 1 {
		eff.MaxProductsPerRun = v
	}
	if v, ok := envBool("AUTOHEAL_KILL_SWITCH"); ok {
		eff.KillSwitch = v
	}
	if v, ok := envBool("AUTOHEAL_ALLOW_APPLY"); ok {
		eff.AllowApply = v
	}

	// Deployment lockdown clamps risk regardless of stored or env values.
	if s.deployment {
		eff.DeploymentLockdown = true
		if eff.Level > 1 {
			eff.Level = 1
		}
		eff.ProbeBrowser = false
	}

	// Kill switch wins over everything.
	if eff.KillSwitch {
		eff.Enabled = false
	}

	if eff.IntervalSeconds < 1 {
		eff.IntervalSeconds = defaults().IntervalSeconds
	}
	return eff
}

// CanApplyFixes gates apply-mode: kill switch off, level 2, and the explicit
// apply flag all required.
func (s *Store) CanApplyFixes() ApplyGate {
	eff := s.Effective()
	switch {
	case eff.KillSwitch:
		return ApplyGate{Allowed: false, Reason: "kill_switch_on"}
	case eff.Level < 2:
		return ApplyGate{Allowed: false, Reason: "level_too_low"}
	case !eff.AllowApply:
		return ApplyGate{Allowed: false, Reason: "apply_not_enabled"}
	}
	return ApplyGate{Allowed: true}
}

// Reset drops the cache; the next Get re-reads the file. Test hook.
func (s *Store) Reset() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func envBool(key string) (bool, bool) {
	v, set := os.LookupEnv(key)
	if !set {
		return false, false
	}
	switch v {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	}
	return false, false
}

func envInt(key string) (int, bool) {
	v, set := os.LookupEnv(key)
	if !set {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func atLeast(v, lo int) int {
	if v < lo {
		return lo
	}
	return v
}
