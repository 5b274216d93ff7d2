package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/config"
	"github.com/sells-group/cao-extract/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate   AlertType = "failure_rate"
	AlertExhaustedRate AlertType = "retry_exhausted_rate"
	AlertCostOverrun   AlertType = "cost_overrun"
)

// minDocumentsForRate is the number of finished documents needed before
// rate alerts fire.
const minDocumentsForRate = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a PerformanceSummary against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitorConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitor config.
func NewAlerter(cfg config.MonitorConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the summary against thresholds and returns any alerts.
// A zero threshold disables its check.
func (a *Alerter) Evaluate(s model.PerformanceSummary) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if s.Documents >= minDocumentsForRate && a.cfg.FailureRateThreshold > 0 {
		failed := s.Failed + s.Exhausted
		rate := float64(failed) / float64(s.Documents)
		if rate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertFailureRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Document failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
					rate*100, a.cfg.FailureRateThreshold*100, failed, s.Documents,
				),
				Details: map[string]any{
					"failure_rate":  rate,
					"threshold":     a.cfg.FailureRateThreshold,
					"failed":        failed,
					"finished":      s.Documents,
					"error_classes": s.ErrorClasses,
				},
				Timestamp: now,
			})
		}
	}

	if s.Documents >= minDocumentsForRate && a.cfg.ExhaustedRateThreshold > 0 {
		rate := float64(s.Exhausted) / float64(s.Documents)
		if rate > a.cfg.ExhaustedRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertExhaustedRate,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Retry exhaustion rate %.1f%% exceeds threshold %.1f%% (%d of %d documents)",
					rate*100, a.cfg.ExhaustedRateThreshold*100, s.Exhausted, s.Documents,
				),
				Details: map[string]any{
					"exhausted_rate": rate,
					"threshold":      a.cfg.ExhaustedRateThreshold,
					"exhausted":      s.Exhausted,
					"retries":        s.Retries,
				},
				Timestamp: now,
			})
		}
	}

	if a.cfg.CostThresholdUSD > 0 && s.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Estimated API cost $%.2f exceeds threshold $%.2f",
				s.CostUSD, a.cfg.CostThresholdUSD,
			),
			Details: map[string]any{
				"cost_usd":      s.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
				"input_tokens":  s.InputTokens,
				"output_tokens": s.OutputTokens,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
