package scheduler

import (
	"fmt"
	"net/http"
	"time"
)

const probeTimeout = 10 * time.Second

// ProbeResult is the outcome of one synthetic storefront check.
type ProbeResult struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Probe is the bounded synthetic functional check against the live store.
type Probe struct {
	url    string
	client *http.Client
}

func NewProbe(storeURL string) *Probe {
	return &Probe{
		url:    storeURL,
		client: &http.Client{Timeout: probeTimeout},
	}
}

// Run fetches the storefront root and requires a 200. Failures are results,
// not errors; the probe's own timeout bounds a hung store.
func (p *Probe) Run() ProbeResult {
	start := time.Now()
	resp, err := p.client.Get(p.url)
	res := ProbeResult{DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		res.Error = fmt.Sprintf("expected 200, got %d", resp.StatusCode)
		return res
	}
	res.OK = true
	return res
}
