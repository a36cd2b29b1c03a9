package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// TestReport is the parsed output of the external end-to-end test command.
type TestReport struct {
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	Passed   int             `json:"passed"`
	Failed   int             `json:"failed"`
	Raw      json.RawMessage `json:"raw,omitempty"`
	RanAt    time.Time       `json:"ran_at"`
	Duration int64           `json:"duration_ms"`
}

// ErrTestBusy marks a concurrent run attempt; handlers surface it as 409.
var ErrTestBusy = &busyError{}

type busyError struct{}

func (*busyError) Error() string { return "test_run_in_progress" }

// TestRunner shells out to the configured e2e test command and stores the
// last report. A missing command or binary is a structured failure, never a
// crash. Single-flight: concurrent Run calls get ErrTestBusy.
type TestRunner struct {
	command    string
	timeout    time.Duration
	reportPath string
	running    atomic.Bool
}

func NewTestRunner(command string, timeoutSec int, dataDir string) *TestRunner {
	if timeoutSec < 1 {
		timeoutSec = 120
	}
	return &TestRunner{
		command:    command,
		timeout:    time.Duration(timeoutSec) * time.Second,
		reportPath: filepath.Join(dataDir, "autoheal", "test_report.json"),
	}
}

// Run executes the test command with a bounded timeout and persists the
// report. Only the busy case is returned as an error.
func (t *TestRunner) Run() (TestReport, error) {
	if !t.running.CompareAndSwap(false, true) {
		return TestReport{}, ErrTestBusy
	}
	defer t.running.Store(false)

	report := TestReport{RanAt: time.Now().UTC()}
	if t.command == "" {
		report.Error = "test_command_not_configured"
		t.persist(report)
		return report, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	parts := strings.Fields(t.command)
	start := time.Now()
	out, err := exec.CommandContext(ctx, parts[0], parts[1:]...).Output()
	report.Duration = time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			report.Error = "test_timeout"
		} else {
			report.Error = "test_runner_failed: " + err.Error()
		}
		// Exit status != 0 still often carries a report on stdout.
		if len(out) > 0 {
			t.parseOutput(&report, out)
		}
		t.persist(report)
		return report, nil
	}

	t.parseOutput(&report, out)
	report.OK = report.Error == "" && report.Failed == 0
	t.persist(report)
	return report, nil
}

func (t *TestRunner) parseOutput(report *TestReport, out []byte) {
	var parsed struct {
		Passed int `json:"passed"`
		Failed int `json:"failed"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		if report.Error == "" {
			report.Error = "test_report_unparsable"
		}
		return
	}
	report.Passed = parsed.Passed
	report.Failed = parsed.Failed
	report.Raw = json.RawMessage(out)
}

// Last returns the most recently persisted report.
func (t *TestRunner) Last() (TestReport, bool) {
	data, err := os.ReadFile(t.reportPath)
	if err != nil {
		return TestReport{}, false
	}
	var report TestReport
	if err := json.Unmarshal(data, &report); err != nil {
		return TestReport{}, false
	}
	return report, true
}

func (t *TestRunner) persist(report TestReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.reportPath), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(t.reportPath, data, 0o644)
}
