package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skiptrace/internal/config"
	"github.com/sells-group/skiptrace/internal/model"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{CostAlertFraction: 0.8, FailureRateThreshold: 0.5}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		Quota: model.Quota{LimitCents: 5000, SpentCents: 1000},
		Providers: []ProviderHealth{
			{Name: "batchdata", Calls: 20, Failures: 2, FailureRate: 0.1},
			{Name: "skipgenie", Calls: 3, Failures: 3, FailureRate: 1}, // too few calls
		},
		LookbackHours: 24,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&MetricsSnapshot{Quota: model.Quota{LimitCents: 5000, SpentCents: 4200}})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$42.00")
	assert.Contains(t, alerts[0].Message, "84%")
}

func TestAlerter_Evaluate_UnlimitedBudget(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	assert.Empty(t, a.Evaluate(&MetricsSnapshot{Quota: model.Quota{Unlimited: true, SpentCents: 99999}}))
}

func TestAlerter_Evaluate_SoftPaused(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&MetricsSnapshot{Quota: model.Quota{LimitCents: 5000, SpentCents: 5000, SoftPaused: true}})
	require.Len(t, alerts, 1, "soft pause replaces the cost warning")
	assert.Equal(t, AlertBudgetSoftPaused, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
}

func TestAlerter_Evaluate_ProviderFailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	alerts := a.Evaluate(&MetricsSnapshot{
		Providers:     []ProviderHealth{{Name: "batchdata", Calls: 10, Failures: 8, FailureRate: 0.8, Circuit: "open"}},
		LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertProviderFailureRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "batchdata failure rate 80.0%")
	assert.Equal(t, "batchdata", alerts[0].Details["provider"])
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.Equal(t, AlertCostOverrun, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertCostOverrun, Severity: "medium", Message: "a"},
		{Type: AlertCostOverrun, Severity: "medium", Message: "b"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	sent := NewAlerter(cfg).SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	sent := NewAlerter(testMonitoringConfig()).SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun}})
	assert.Equal(t, 0, sent)
}
