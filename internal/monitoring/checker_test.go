package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/config"
	"github.com/sells-group/cao-extract/internal/model"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := Open(DriverJSONL, filepath.Join(t.TempDir(), "events.jsonl"), Options{RunID: "run-1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	m := newTestMonitor(t)
	cfg := config.MonitorConfig{CheckIntervalSecs: 1, WindowMinutes: 60, FailureRateThreshold: 0.10}
	checker := NewChecker(m, NewAlerter(cfg), cfg, model.FlowNew, 10)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	m := newTestMonitor(t)
	checker := NewChecker(m, NewAlerter(config.MonitorConfig{}), config.MonitorConfig{}, model.FlowNew, 0)
	assert.NotNil(t, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_AlertsFireOnce(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	ctx := context.Background()
	m := newTestMonitor(t)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, m.Record(ctx, model.PerformanceEvent{
			DocumentID: id,
			Flow:       model.FlowNew,
			Stage:      model.StageDocument,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			EndedAt:    base.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Outcome:    model.OutcomeFailure,
			ErrorClass: "auth",
		}))
	}

	cfg := config.MonitorConfig{FailureRateThreshold: 0.5, WebhookURL: ts.URL, WindowMinutes: 60}
	checker := NewChecker(m, NewAlerter(cfg), cfg, model.FlowNew, 10)
	log := zap.NewNop()

	checker.check(ctx, log)
	checker.check(ctx, log)
	assert.Equal(t, int32(1), received.Load())
}
