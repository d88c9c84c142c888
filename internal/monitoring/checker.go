package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/config"
)

// Checker periodically collects gazetteer health metrics and routes any
// triggered alerts to the alerter. It is the background companion to the ops
// endpoints, which serve the same metrics on demand.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run blocks until ctx ends. The first sweep happens immediately so a stale
// or missing snapshot is reported at startup rather than one interval later.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("alert checker running",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.sweep(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.sweep(ctx, log)
		}
	}
}

func (c *Checker) sweep(ctx context.Context, log *zap.Logger) {
	metrics, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("health metrics collection failed", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(metrics)
	if len(alerts) == 0 {
		log.Debug("gazetteer healthy",
			zap.Int("snapshot_version", metrics.SnapshotVersion),
		)
		return
	}

	delivered := c.alerter.SendAlerts(ctx, alerts)
	log.Warn("gazetteer health alerts",
		zap.Int("triggered", len(alerts)),
		zap.Int("delivered", delivered),
	)
}
