package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/config"
	"github.com/sells-group/cao-extract/internal/model"
)

// Checker logs progress and evaluates alerts periodically during a batch.
type Checker struct {
	monitor *Monitor
	alerter *Alerter
	cfg     config.MonitorConfig
	flow    model.Flow
	target  int
	fired   map[AlertType]bool
}

// NewChecker creates a background checker. target is the expected total
// document count for flow; zero disables the ETA.
func NewChecker(monitor *Monitor, alerter *Alerter, cfg config.MonitorConfig, flow model.Flow, target int) *Checker {
	return &Checker{
		monitor: monitor,
		alerter: alerter,
		cfg:     cfg,
		flow:    flow,
		target:  target,
		fired:   make(map[AlertType]bool),
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting performance checker",
		zap.Duration("interval", interval),
		zap.Int("window_minutes", c.cfg.WindowMinutes),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("performance checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check fires each alert type at most once per checker.
func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	s, err := c.monitor.Summary(ctx)
	if err != nil {
		log.Error("monitoring: failed to summarize events", zap.Error(err))
		return
	}

	p, err := c.monitor.Progress(ctx, c.flow, c.target)
	if err != nil {
		log.Error("monitoring: failed to estimate progress", zap.Error(err))
		return
	}
	log.Info("monitoring: progress",
		zap.String("flow", string(c.flow)),
		zap.Int("completed", p.Completed),
		zap.Int("target", p.Target),
		zap.Float64("percent", p.Percent),
		zap.Float64("docs_per_hour", p.ThroughputPerHour),
		zap.Duration("remaining", p.EstimatedRemaining),
		zap.Float64("success_rate", s.SuccessRate),
		zap.Float64("cost_usd", s.CostUSD),
	)

	var fresh []Alert
	for _, a := range c.alerter.Evaluate(s) {
		if c.fired[a.Type] {
			continue
		}
		c.fired[a.Type] = true
		log.Warn("monitoring: alert", zap.String("type", string(a.Type)), zap.String("message", a.Message))
		fresh = append(fresh, a)
	}
	if len(fresh) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
}
