package alerts

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/getpawsy/autoheal/internal/models"
	"github.com/getpawsy/autoheal/internal/telemetry"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Alert types and severities.
const (
	AlertCartSuccessLow  = "cart_success_rate_low"
	AlertPDPNotFoundHigh = "pdp_not_found_high"
	AlertImageFailsHigh  = "image_failures_high"

	SeverityCritical = "critical"
	SeverityWarn     = "warn"
)

// Static thresholds. Policy constants, not derived values.
const (
	cartSuccessMin    = 0.80
	cartMinSampleSize = 20
	pdpNotFoundMax    = 50
	imageFailuresMax  = 100
)

// FiredAlert is one threshold breach in an evaluation pass.
type FiredAlert struct {
	ID       uuid.UUID              `json:"id"`
	Type     string                 `json:"type"`
	Severity string                 `json:"severity"`
	Payload  map[string]interface{} `json:"payload"`
}

// EvalResult reports one evaluation pass.
type EvalResult struct {
	Evaluated bool         `json:"evaluated"`
	Alerts    []FiredAlert `json:"alerts"`
}

// Evaluator reads the hourly telemetry summary against static thresholds and
// dispatches breaches through the configured channels.
type Evaluator struct {
	db        *gorm.DB
	telemetry *telemetry.Aggregator
	notifiers []Notifier
	enabled   bool

	stop chan struct{}
}

func NewEvaluator(db *gorm.DB, tel *telemetry.Aggregator, notifiers []Notifier, enabled bool) *Evaluator {
	return &Evaluator{
		db:        db,
		telemetry: tel,
		notifiers: notifiers,
		enabled:   enabled,
		stop:      make(chan struct{}),
	}
}

// Start runs the evaluator on its own timer, independent of the scheduler.
func (e *Evaluator) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.Evaluate()
			case <-e.stop:
				return
			}
		}
	}()
	slog.Info("Alert evaluator started", "interval", interval)
}

func (e *Evaluator) Stop() {
	close(e.stop)
}

// Evaluate is one threshold pass over the trailing hour. No-op when alerting
// is globally disabled.
func (e *Evaluator) Evaluate() EvalResult {
	if !e.enabled {
		return EvalResult{Evaluated: false, Alerts: []FiredAlert{}}
	}

	sum := e.telemetry.Summarize(1)
	res := EvalResult{Evaluated: true, Alerts: []FiredAlert{}}

	// Rate alerts need a minimum sample so a quiet store stays quiet.
	clicks := sum.Counts["add_to_cart_clicked"]
	if sum.CartSuccessRate != nil && clicks >= cartMinSampleSize && *sum.CartSuccessRate < cartSuccessMin {
		res.Alerts = append(res.Alerts, e.fire(AlertCartSuccessLow, SeverityCritical, map[string]interface{}{
			"cart_success_rate": *sum.CartSuccessRate,
			"clicks":            clicks,
			"threshold":         cartSuccessMin,
		}))
	}

	if n := sum.Counts["pdp_not_found"]; n >= pdpNotFoundMax {
		res.Alerts = append(res.Alerts, e.fire(AlertPDPNotFoundHigh, SeverityWarn, map[string]interface{}{
			"count":     n,
			"threshold": pdpNotFoundMax,
		}))
	}

	if n := sum.Counts["image_render_failed"]; n >= imageFailuresMax {
		res.Alerts = append(res.Alerts, e.fire(AlertImageFailsHigh, SeverityWarn, map[string]interface{}{
			"count":     n,
			"threshold": imageFailuresMax,
		}))
	}

	return res
}

// fire persists the alert once, then dispatches to every channel. A channel
// failure is recorded on the row and never blocks the others.
func (e *Evaluator) fire(alertType, severity string, payload map[string]interface{}) FiredAlert {
	record := models.AlertRecord{
		ID:       uuid.New(),
		Type:     alertType,
		Severity: severity,
	}
	if data, err := json.Marshal(payload); err == nil {
		record.Payload = datatypes.JSON(data)
	}
	if err := e.db.Create(&record).Error; err != nil {
		slog.Error("Failed to persist alert", "type", alertType, "error", err)
	}

	deliveryErrors := map[string]string{}
	for _, n := range e.notifiers {
		msg := map[string]interface{}{
			"alert":    alertType,
			"severity": severity,
			"payload":  payload,
			"at":       time.Now().UTC().Format(time.RFC3339),
		}
		if err := n.Send(msg); err != nil {
			deliveryErrors[n.Name()] = err.Error()
			slog.Warn("Alert delivery failed", "channel", n.Name(), "type", alertType, "error", err)
			continue
		}
		if n.Name() == "webhook" {
			record.NotifiedWebhook = true
		}
	}

	if len(deliveryErrors) > 0 {
		if data, err := json.Marshal(deliveryErrors); err == nil {
			record.DeliveryErrors = datatypes.JSON(data)
		}
	}
	e.db.Save(&record)

	slog.Info("Alert fired", "type", alertType, "severity", severity)
	return FiredAlert{ID: record.ID, Type: alertType, Severity: severity, Payload: payload}
}
