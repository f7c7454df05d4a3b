// Package monitoring provides the health probe and the periodic metrics
// snapshot behind the serve command.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/store"
)

// MetricsSnapshot holds a point-in-time view of engine state.
type MetricsSnapshot struct {
	OpenDiscrepancies int       `json:"open_discrepancies"`
	ResolvedAccepted  int       `json:"resolved_accepted"`
	ResolvedRejected  int       `json:"resolved_rejected"`
	TotalEvents       int       `json:"total_events"`
	CollectedAt       time.Time `json:"collected_at"`
}

// Collector gathers snapshots from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of the engine's counters.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{CollectedAt: time.Now().UTC()}

	var err error
	if snap.OpenDiscrepancies, err = c.store.CountDiscrepancies(ctx, model.DiscrepancyOpen); err != nil {
		return nil, eris.Wrap(err, "monitoring: count open discrepancies")
	}
	if snap.ResolvedAccepted, err = c.store.CountDiscrepancies(ctx, model.DiscrepancyResolvedAccepted); err != nil {
		return nil, eris.Wrap(err, "monitoring: count accepted discrepancies")
	}
	if snap.ResolvedRejected, err = c.store.CountDiscrepancies(ctx, model.DiscrepancyResolvedRejected); err != nil {
		return nil, eris.Wrap(err, "monitoring: count rejected discrepancies")
	}
	if snap.TotalEvents, err = c.store.CountEvents(ctx); err != nil {
		return nil, eris.Wrap(err, "monitoring: count events")
	}
	return snap, nil
}
