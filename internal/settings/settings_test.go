package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

func TestDefaults_SafeOutOfTheBox(t *testing.T) {
	store := NewStore(t.TempDir(), false)

	got := store.Get()

	assert.False(t, got.Enabled)
	assert.Equal(t, 0, got.Level)
	assert.False(t, got.KillSwitch)
	assert.Equal(t, 300, got.IntervalSeconds)
	assert.Equal(t, 25, got.MaxChangesPerRun)
	assert.Equal(t, 100, got.MaxProductsPerRun)
	assert.False(t, got.AllowApply)
}

func TestUpdate_PersistsAndClamps(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, false)

	updated, err := store.Update(Patch{
		Enabled:          boolPtr(true),
		Level:            intPtr(7),
		IntervalSeconds:  intPtr(0),
		MaxChangesPerRun: intPtr(-3),
	}, "admin")

	assert.NoError(t, err)
	assert.True(t, updated.Enabled)
	assert.Equal(t, 2, updated.Level)
	assert.Equal(t, 1, updated.IntervalSeconds)
	assert.Equal(t, 1, updated.MaxChangesPerRun)
	assert.Equal(t, "admin", updated.UpdatedBy)

	// A fresh store must see the persisted values, not the cache.
	reread := NewStore(dir, false).Get()
	assert.True(t, reread.Enabled)
	assert.Equal(t, 2, reread.Level)
}

func TestGet_UnparsableFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autoheal", "settings.json")
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	assert.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	got := NewStore(dir, false).Get()

	assert.False(t, got.Enabled)
	assert.Equal(t, 300, got.IntervalSeconds)
}

func TestEffective_EnvOverrides(t *testing.T) {
	store := NewStore(t.TempDir(), false)
	t.Setenv("AUTOHEAL_ENABLED", "true")
	t.Setenv("AUTOHEAL_LEVEL", "9")
	t.Setenv("AUTOHEAL_INTERVAL_SECONDS", "60")
	t.Setenv("AUTOHEAL_MAX_CHANGES_PER_RUN", "banana")

	eff := store.Effective()

	assert.True(t, eff.Enabled)
	assert.Equal(t, 2, eff.Level, "out-of-range override clamps")
	assert.Equal(t, 60, eff.IntervalSeconds)
	assert.Equal(t, 25, eff.MaxChangesPerRun, "malformed override ignored")
}

func TestEffective_KillSwitchWinsOverEnable(t *testing.T) {
	store := NewStore(t.TempDir(), false)
	_, err := store.Update(Patch{Enabled: boolPtr(true), KillSwitch: boolPtr(true)}, "admin")
	assert.NoError(t, err)
	t.Setenv("AUTOHEAL_ENABLED", "true")

	eff := store.Effective()

	assert.True(t, eff.KillSwitch)
	assert.False(t, eff.Enabled, "kill switch forces disabled regardless of overrides")
}

func TestEffective_DeploymentLockdown(t *testing.T) {
	store := NewStore(t.TempDir(), true)
	_, err := store.Update(Patch{Level: intPtr(2), ProbeBrowser: boolPtr(true)}, "admin")
	assert.NoError(t, err)

	eff := store.Effective()

	assert.True(t, eff.DeploymentLockdown)
	assert.Equal(t, 1, eff.Level)
	assert.False(t, eff.ProbeBrowser)
}

func TestCanApplyFixes_ReasonOrder(t *testing.T) {
	store := NewStore(t.TempDir(), false)

	gate := store.CanApplyFixes()
	assert.False(t, gate.Allowed)
	assert.Equal(t, "level_too_low", gate.Reason)

	_, err := store.Update(Patch{Level: intPtr(2)}, "admin")
	assert.NoError(t, err)
	gate = store.CanApplyFixes()
	assert.False(t, gate.Allowed)
	assert.Equal(t, "apply_not_enabled", gate.Reason)

	_, err = store.Update(Patch{AllowApply: boolPtr(true)}, "admin")
	assert.NoError(t, err)
	gate = store.CanApplyFixes()
	assert.True(t, gate.Allowed)
	assert.Empty(t, gate.Reason)

	_, err = store.Update(Patch{KillSwitch: boolPtr(true)}, "admin")
	assert.NoError(t, err)
	gate = store.CanApplyFixes()
	assert.False(t, gate.Allowed)
	assert.Equal(t, "kill_switch_on", gate.Reason)
}
