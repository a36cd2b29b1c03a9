package triage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getpawsy/autoheal/internal/config"
	"github.com/getpawsy/autoheal/internal/diagnostics"
)

// Plan is the strictly-typed remediation plan the LLM must return.
type Plan struct {
	RootCause           string   `json:"root_cause"`
	Confidence          float64  `json:"confidence"`
	RecommendedFixes    []string `json:"recommended_fixes"`
	SafeFixes           []string `json:"safe_fixes"`
	CodePatchSuggestion string   `json:"code_patch_suggestion"`
	VerificationSteps   []string `json:"verification_steps"`
}

// Result carries the plan, or the failure with raw diagnostics still attached.
type Result struct {
	OK          bool                    `json:"ok"`
	Error       string                  `json:"error,omitempty"`
	Plan        *Plan                   `json:"plan,omitempty"`
	Diagnostics diagnostics.Diagnostics `json:"diagnostics"`
	Note        string                  `json:"note,omitempty"`
	RanAt       time.Time               `json:"ran_at"`
}

const systemPrompt = `You are the reliability triage assistant for a pet-supplies storefront. ` +
	`Given diagnostics, recent logs and the last test report, respond with ONLY a JSON object: ` +
	`{"root_cause": string, "confidence": number 0-1, "recommended_fixes": [string], ` +
	`"safe_fixes": [string], "code_patch_suggestion": string, "verification_steps": [string]}. ` +
	`safe_fixes may only contain these action types: %s. No prose outside the JSON.`

// Engine packages context into one prompt, calls the LLM service, and parses
// the plan. It emits safe-fix candidates only; the fix runner enforces the
// allow-list.
type Engine struct {
	cfg         *config.Config
	collector   *diagnostics.Collector
	logs        *diagnostics.LogBuffer
	client      *http.Client
	reportPath  string // last stored e2e test report
	resultPath  string // last triage result
	actionTypes []string
}

func NewEngine(cfg *config.Config, collector *diagnostics.Collector, logs *diagnostics.LogBuffer, actionTypes []string) *Engine {
	base := filepath.Join(cfg.DataDir, "autoheal")
	return &Engine{
		cfg:         cfg,
		collector:   collector,
		logs:        logs,
		client:      &http.Client{Timeout: 60 * time.Second},
		reportPath:  filepath.Join(base, "test_report.json"),
		resultPath:  filepath.Join(base, "triage_report.json"),
		actionTypes: actionTypes,
	}
}

// Run gathers diagnostics, recent logs, and the last test report, calls the
// LLM, and returns a Result. Service failure or unparsable output yields
// {ok:false} with diagnostics attached; it never panics past this boundary.
func (e *Engine) Run(note string) Result {
	res := Result{
		Diagnostics: e.collector.Collect(),
		Note:        note,
		RanAt:       time.Now().UTC(),
	}

	if e.cfg.LLMAPIKey == "" {
		res.Error = "llm_not_configured"
		e.persist(res)
		return res
	}

	plan, err := e.callLLM(e.buildPrompt(res.Diagnostics, note))
	if err != nil {
		res.Error = err.Error()
		slog.Warn("Triage LLM call failed", "error", err)
		e.persist(res)
		return res
	}

	res.OK = true
	res.Plan = plan
	e.persist(res)
	return res
}

// Last returns the most recently persisted triage result.
func (e *Engine) Last() (Result, bool) {
	data, err := os.ReadFile(e.resultPath)
	if err != nil {
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, false
	}
	return res, true
}

func (e *Engine) buildPrompt(d diagnostics.Diagnostics, note string) string {
	var b strings.Builder

	diagJSON, _ := json.MarshalIndent(d, "", "  ")
	b.WriteString("## Diagnostics\n")
	b.Write(diagJSON)

	if report, err := os.ReadFile(e.reportPath); err == nil {
		b.WriteString("\n\n## Last test report\n")
		b.Write(report)
	}

	if lines := e.logs.Recent(); len(lines) > 0 {
		b.WriteString("\n\n## Recent logs\n")
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if note != "" {
		b.WriteString("\n## Operator note\n")
		b.WriteString(note)
	}
	return b.String()
}

func (e *Engine) callLLM(prompt string) (*Plan, error) {
	reqBody := map[string]interface{}{
		"model": e.cfg.LLMModel,
		"messages": []map[string]string{
			{"role": "system", "content": fmt.Sprintf(systemPrompt, strings.Join(e.actionTypes, ", "))},
			{"role": "user", "content": prompt},
		},
		"stream": false,
	}

	body, _ := json.Marshal(reqBody)
	httpReq, err := http.NewRequest("POST", e.cfg.LLMAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.LLMAPIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm_unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm_status_%d", resp.StatusCode)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &completion); err != nil || len(completion.Choices) == 0 {
		return nil, fmt.Errorf("llm_bad_response")
	}

	return parsePlan(completion.Choices[0].Message.Content)
}

// parsePlan tolerates a markdown code fence around the JSON object.
func parsePlan(content string) (*Plan, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}

	var plan Plan
	if err := json.Unmarshal([]byte(content), &plan); err != nil {
		return nil, fmt.Errorf("llm_unparsable: %w", err)
	}
	return &plan, nil
}

func (e *Engine) persist(res Result) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(e.resultPath), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(e.resultPath, data, 0o644); err != nil {
		slog.Warn("Failed to persist triage result", "error", err)
	}
}
