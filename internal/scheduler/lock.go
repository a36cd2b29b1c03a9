package scheduler

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FileLock is the cross-process advisory lock: a TTL'd lock file. Best
// effort only — acquisition failure means "skip this cycle", never a crash.
// A stale file (older than TTL) left by a crashed holder is reclaimed.
type FileLock struct {
	path string
	ttl  func() time.Duration
	now  func() time.Time
}

type lockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// NewFileLock builds a lock whose TTL is re-read on every staleness check,
// so a runtime interval change moves the reclaim horizon with it.
func NewFileLock(dataDir string, ttl func() time.Duration) *FileLock {
	return &FileLock{
		path: filepath.Join(dataDir, "autoheal", ".cycle_lock"),
		ttl:  ttl,
		now:  time.Now,
	}
}

// TryAcquire returns true when this process now holds the lock.
func (l *FileLock) TryAcquire() bool {
	if info, ok := l.read(); ok {
		if l.now().Sub(info.AcquiredAt) < l.ttl() {
			return false // fresh lock held elsewhere
		}
		slog.Warn("Reclaiming stale cycle lock", "holder_pid", info.PID, "age", l.now().Sub(info.AcquiredAt))
	}

	host, _ := os.Hostname()
	data, err := json.Marshal(lockInfo{
		PID:        os.Getpid(),
		Hostname:   host,
		AcquiredAt: l.now(),
	})
	if err != nil {
		return false
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		slog.Warn("Cycle lock write failed", "error", err)
		return false
	}
	return true
}

// Release removes the lock file. Safe to call when not held.
func (l *FileLock) Release() {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Cycle lock release failed", "error", err)
	}
}

func (l *FileLock) read() (lockInfo, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return lockInfo{}, false
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// Unparsable lock files count as stale.
		return lockInfo{AcquiredAt: time.Time{}}, true
	}
	return info, true
}
