package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/skiptrace/internal/config"
)

// Checker runs periodic alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	// last remembers alert types raised on the previous tick so a
	// condition that persists is reported once, not every interval.
	last map[string]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		last:      make(map[string]bool),
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects one snapshot and sends alerts that were not already
// active on the previous check. It returns the number of alerts sent.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(snap)
	active := make(map[string]bool, len(alerts))
	fresh := alerts[:0:0]
	for _, a := range alerts {
		key := alertKey(a)
		active[key] = true
		if !c.last[key] {
			fresh = append(fresh, a)
		}
	}
	c.last = active

	if len(fresh) == 0 {
		log.Debug("monitoring: no new alerts", zap.Int("active", len(alerts)))
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

func alertKey(a Alert) string {
	if p, ok := a.Details["provider"].(string); ok {
		return string(a.Type) + ":" + p
	}
	return string(a.Type)
}
