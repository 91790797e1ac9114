package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Checker evaluates snapshots on an interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	log       *zap.Logger
}

// NewChecker creates a Checker. A non-positive interval defaults to five
// minutes.
func NewChecker(collector *Collector, alerter *Alerter, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		log:       zap.L().Named("monitoring"),
	}
}

// Run checks once per interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("health checks scheduled", zap.Duration("interval", c.interval))
	t := time.NewTicker(c.interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check collects a snapshot, logs and delivers the alerts it triggers, and
// returns them.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		c.log.Error("health snapshot failed", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	for _, a := range alerts {
		c.log.Warn(a.Message, zap.String("alert", string(a.Type)), zap.String("severity", a.Severity))
	}
	if n := c.alerter.SendAlerts(ctx, alerts); n > 0 {
		c.log.Info("alerts delivered", zap.Int("count", n))
	}
	return alerts
}
