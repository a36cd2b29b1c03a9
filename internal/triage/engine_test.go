package triage

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getpawsy/autoheal/internal/catalog"
	"github.com/getpawsy/autoheal/internal/config"
	"github.com/getpawsy/autoheal/internal/diagnostics"
	"github.com/getpawsy/autoheal/internal/heal"
	"github.com/stretchr/testify/assert"
)

func newTestEngine(t *testing.T, apiURL, apiKey string) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:   dir,
		LLMAPIKey: apiKey,
		LLMAPIURL: apiURL,
		LLMModel:  "test-model",
	}
	collector := diagnostics.NewCollector(nil, catalog.NewStore(dir), diagnostics.NewCounters())
	return NewEngine(cfg, collector, diagnostics.NewLogBuffer(), heal.AllowedActionTypes())
}

func completionWith(content string) string {
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

const planJSON = `{"root_cause":"image CDN outage","confidence":0.85,` +
	`"recommended_fixes":["rebuild-resolved-images","enable-remote-image-fallback"],` +
	`"safe_fixes":["rebuild-resolved-images"],"code_patch_suggestion":"",` +
	`"verification_steps":["reload the homepage"]}`

func TestRun_NotConfigured(t *testing.T) {
	engine := newTestEngine(t, "http://127.0.0.1:1", "")

	res := engine.Run("")

	assert.False(t, res.OK)
	assert.Equal(t, "llm_not_configured", res.Error)
	assert.NotZero(t, res.Diagnostics.CollectedAt, "diagnostics travel with the failure")
}

func TestRun_ParsesPlan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(completionWith(planJSON)))
	}))
	defer srv.Close()

	engine := newTestEngine(t, srv.URL, "test-key")
	res := engine.Run("images are broken")

	assert.True(t, res.OK)
	assert.NotNil(t, res.Plan)
	assert.Equal(t, "image CDN outage", res.Plan.RootCause)
	assert.InDelta(t, 0.85, res.Plan.Confidence, 1e-9)
	assert.Equal(t, []string{"rebuild-resolved-images"}, res.Plan.SafeFixes)
	assert.Equal(t, "images are broken", res.Note)
}

func TestRun_ToleratesMarkdownFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionWith("```json\n" + planJSON + "\n```")))
	}))
	defer srv.Close()

	engine := newTestEngine(t, srv.URL, "test-key")
	res := engine.Run("")

	assert.True(t, res.OK)
	assert.Equal(t, "image CDN outage", res.Plan.RootCause)
}

func TestRun_ProseIsUnparsable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionWith("The root cause appears to be a CDN outage.")))
	}))
	defer srv.Close()

	engine := newTestEngine(t, srv.URL, "test-key")
	res := engine.Run("")

	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "llm_unparsable")
}

func TestRun_UpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	engine := newTestEngine(t, srv.URL, "test-key")
	res := engine.Run("")

	assert.False(t, res.OK)
	assert.Equal(t, "llm_status_429", res.Error)
}

func TestRun_Unreachable(t *testing.T) {
	engine := newTestEngine(t, "http://127.0.0.1:1", "test-key")

	res := engine.Run("")

	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "llm_unreachable")
}

func TestLast_RoundTripsThroughDisk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionWith(planJSON)))
	}))
	defer srv.Close()

	engine := newTestEngine(t, srv.URL, "test-key")
	_, ok := engine.Last()
	assert.False(t, ok, "no result before the first run")

	ran := engine.Run("")
	assert.True(t, ran.OK)

	last, ok := engine.Last()
	assert.True(t, ok)
	assert.Equal(t, ran.Plan.RootCause, last.Plan.RootCause)
}

func TestParsePlan_PlainFence(t *testing.T) {
	plan, err := parsePlan("```\n" + planJSON + "\n```")

	assert.NoError(t, err)
	assert.Equal(t, "image CDN outage", plan.RootCause)
}
