package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Checker answers health probes and logs periodic snapshots while the
// server runs.
type Checker struct {
	collector *Collector
	interval  time.Duration
}

// NewChecker creates a background checker. A non-positive interval falls
// back to five minutes.
func NewChecker(collector *Collector, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{collector: collector, interval: interval}
}

// Healthy reports whether the store answers. It is the /health probe.
func (c *Checker) Healthy(ctx context.Context) error {
	_, err := c.collector.Collect(ctx)
	return err
}

// Run starts the periodic snapshot loop. It blocks until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting snapshot loop", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("snapshot loop stopped")
			return
		case <-ticker.C:
			snap, err := c.collector.Collect(ctx)
			if err != nil {
				log.Error("monitoring: failed to collect snapshot", zap.Error(err))
				continue
			}
			log.Info("monitoring: snapshot",
				zap.Int("open_discrepancies", snap.OpenDiscrepancies),
				zap.Int("resolved_accepted", snap.ResolvedAccepted),
				zap.Int("resolved_rejected", snap.ResolvedRejected),
				zap.Int("total_events", snap.TotalEvents),
			)
		}
	}
}
