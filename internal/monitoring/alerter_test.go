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

	"github.com/sells-group/cao-extract/internal/config"
	"github.com/sells-group/cao-extract/internal/model"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{
		FailureRateThreshold:   0.10,
		ExhaustedRateThreshold: 0.10,
		CostThresholdUSD:       500.0,
	})

	alerts := a.Evaluate(model.PerformanceSummary{
		Documents: 100,
		Succeeded: 95,
		Failed:    5,
		CostUSD:   100.0,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     500.0,
	})

	alerts := a.Evaluate(model.PerformanceSummary{
		Documents: 20,
		Succeeded: 12,
		Failed:    5,
		Exhausted: 3,
		CostUSD:   50.0,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_ExhaustedRate(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{
		ExhaustedRateThreshold: 0.10,
	})

	alerts := a.Evaluate(model.PerformanceSummary{
		Documents: 10,
		Succeeded: 8,
		Exhausted: 2,
		Retries:   14,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertExhaustedRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "2 of 10")
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     100.0,
	})

	alerts := a.Evaluate(model.PerformanceSummary{
		Documents: 50,
		Succeeded: 48,
		Failed:    2,
		CostUSD:   250.0,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$250.00")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{
		FailureRateThreshold:   0.10,
		ExhaustedRateThreshold: 0.10,
		CostThresholdUSD:       100.0,
	})

	alerts := a.Evaluate(model.PerformanceSummary{
		Documents: 20,
		Succeeded: 10,
		Failed:    5,
		Exhausted: 5,
		CostUSD:   300.0,
	})
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertFailureRate])
	assert.True(t, types[AlertExhaustedRate])
	assert.True(t, types[AlertCostOverrun])
}

func TestAlerter_Evaluate_MinimumDocumentsRequired(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{
		FailureRateThreshold:   0.10,
		ExhaustedRateThreshold: 0.10,
	})

	alerts := a.Evaluate(model.PerformanceSummary{
		Documents: 3,
		Succeeded: 1,
		Failed:    1,
		Exhausted: 1,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ZeroThresholdsDisabled(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{})

	alerts := a.Evaluate(model.PerformanceSummary{
		Documents: 10,
		Failed:    10,
		CostUSD:   999.0,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitorConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertCostOverrun, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitorConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitorConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}
