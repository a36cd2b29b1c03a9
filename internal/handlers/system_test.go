package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/getpawsy/autoheal/internal/telemetry"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestHealth_ReturnsScoreGradeIssues(t *testing.T) {
	aggregator := telemetry.NewAggregator(t.TempDir())
	h := NewSystemHandler(aggregator, nil, nil)

	app := fiber.New()
	app.Get("/api/health", h.Health)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/health", nil))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(100), body["score"])
	assert.Equal(t, "A", body["grade"])
	assert.Contains(t, body, "issues")
}

func TestHealth_OmitsOperationalDetail(t *testing.T) {
	aggregator := telemetry.NewAggregator(t.TempDir())
	h := NewSystemHandler(aggregator, nil, nil)

	app := fiber.New()
	app.Get("/api/health", h.Health)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/health", nil))
	assert.NoError(t, err)

	var body map[string]interface{}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	for _, key := range []string{"db", "version", "uptime", "service", "time", "status"} {
		assert.NotContains(t, body, key)
	}
}
