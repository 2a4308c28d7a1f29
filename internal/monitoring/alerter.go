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

	"github.com/sells-group/skiptrace/internal/config"
	"github.com/sells-group/skiptrace/internal/cost"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCostOverrun         AlertType = "cost_overrun"
	AlertBudgetSoftPaused    AlertType = "budget_soft_paused"
	AlertProviderFailureRate AlertType = "provider_failure_rate"
)

// minProviderCalls is the sample size below which failure rates are noise.
const minProviderCalls = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	q := snap.Quota

	// Budget soft pause supersedes the early-warning cost alert.
	switch {
	case q.SoftPaused:
		alerts = append(alerts, Alert{
			Type:     AlertBudgetSoftPaused,
			Severity: "high",
			Message: fmt.Sprintf(
				"Skip-trace budget exhausted: %s of %s spent, new lookups paused until %s",
				cost.FormatCents(q.SpentCents), cost.FormatCents(q.LimitCents), q.WindowEnd.Format(time.RFC3339),
			),
			Details: map[string]any{
				"spent_cents": q.SpentCents,
				"limit_cents": q.LimitCents,
				"window_end":  q.WindowEnd,
			},
			Timestamp: now,
		})
	case !q.Unlimited && q.LimitCents > 0 && a.cfg.CostAlertFraction > 0 &&
		float64(q.SpentCents) >= a.cfg.CostAlertFraction*float64(q.LimitCents):
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Provider spend %s has reached %.0f%% of the daily cap %s",
				cost.FormatCents(q.SpentCents), float64(q.SpentCents)/float64(q.LimitCents)*100, cost.FormatCents(q.LimitCents),
			),
			Details: map[string]any{
				"spent_cents":    q.SpentCents,
				"limit_cents":    q.LimitCents,
				"alert_fraction": a.cfg.CostAlertFraction,
			},
			Timestamp: now,
		})
	}

	for _, p := range snap.Providers {
		if p.Calls < minProviderCalls || p.FailureRate <= a.cfg.FailureRateThreshold {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertProviderFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Provider %s failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d calls in last %dh)",
				p.Name, p.FailureRate*100, a.cfg.FailureRateThreshold*100,
				p.Failures, p.Calls, snap.LookbackHours,
			),
			Details: map[string]any{
				"provider":     p.Name,
				"failure_rate": p.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       p.Failures,
				"calls":        p.Calls,
				"circuit":      p.Circuit,
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
