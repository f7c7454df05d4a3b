// Package service is the façade over the audit runner, the enrichment
// applier and the store. Commands and the HTTP surface both talk to it,
// so event emission for record lifecycle changes lives here once.
package service

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisworks/coindex/internal/audit"
	"github.com/numisworks/coindex/internal/enrich"
	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/store"
)

// Decision resolves a discrepancy one way or the other.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// ParseDecision validates a user-supplied decision string.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionAccept, DecisionReject:
		return Decision(s), nil
	}
	return "", eris.Errorf("service: unknown decision %q (want accept or reject)", s)
}

// Service composes the engine's pieces behind one call surface.
type Service struct {
	store   store.Store
	runner  *audit.Runner
	applier *enrich.Applier
	policy  enrich.Policy
}

// New wires a Service.
func New(st store.Store, runner *audit.Runner, applier *enrich.Applier, pol enrich.Policy) *Service {
	return &Service{store: st, runner: runner, applier: applier, policy: pol}
}

// AuditRunResult is a per-record audit outcome plus what the auto-apply
// policy did with it.
type AuditRunResult struct {
	audit.RecordResult
	AutoApplied int `json:"auto_applied"`
}

// AuditBatchResult aggregates RunAuditAll.
type AuditBatchResult struct {
	audit.BatchResult
	AutoApplied int `json:"auto_applied"`
}

// RunAudit audits one coin, runs the auto-apply policy over its new
// findings and closes the pass with an enrichment-completed event.
func (s *Service) RunAudit(ctx context.Context, coinID string) (AuditRunResult, error) {
	rec, err := s.runner.RunRecord(ctx, coinID)
	if err != nil {
		return AuditRunResult{RecordResult: rec}, err
	}
	applied := s.finishRecord(ctx, rec)
	return AuditRunResult{RecordResult: rec, AutoApplied: applied}, nil
}

// RunAuditAll audits every coin in the store with the runner's bounded
// worker pool. Per-record failures are reported inside the batch result,
// never as an error from this call.
func (s *Service) RunAuditAll(ctx context.Context) (AuditBatchResult, error) {
	ids, err := s.store.ListCoinIDs(ctx)
	if err != nil {
		return AuditBatchResult{}, eris.Wrap(err, "service: list coin ids")
	}
	batch := s.runner.RunMany(ctx, ids)

	out := AuditBatchResult{BatchResult: batch}
	for _, rec := range batch.Records {
		if rec.Error != "" {
			continue
		}
		out.AutoApplied += s.finishRecord(ctx, rec)
	}
	return out, nil
}

// finishRecord applies the auto-apply policy and appends the
// enrichment-completed event for a successfully audited record. Both are
// best effort: the audit result stands even if they fail.
func (s *Service) finishRecord(ctx context.Context, rec audit.RecordResult) int {
	applied, err := s.applier.ApplyPolicy(ctx, rec.CoinID, s.policy)
	if err != nil {
		zap.L().Warn("service: auto-apply policy failed",
			zap.String("coin_id", rec.CoinID), zap.Error(err))
	}

	event, err := model.NewEvent(rec.CoinID, model.EventEnrichmentCompleted, model.EnrichmentCompletedPayload{
		NewOpen:     rec.NewOpen,
		AutoApplied: applied,
		SourcesUsed: rec.SourcesUsed,
	})
	if err == nil {
		_, err = s.store.AppendEvent(ctx, event)
	}
	if err != nil {
		zap.L().Warn("service: failed to append enrichment-completed event",
			zap.String("coin_id", rec.CoinID), zap.Error(err))
	}
	return applied
}

// ListDiscrepancies lists discrepancies matching the filter.
func (s *Service) ListDiscrepancies(ctx context.Context, filter store.DiscrepancyFilter) ([]model.Discrepancy, error) {
	return s.store.ListDiscrepancies(ctx, filter)
}

// ResolveDiscrepancy accepts or rejects an open discrepancy. Accepting
// applies the external value to the record; rejecting only closes the
// discrepancy.
func (s *Service) ResolveDiscrepancy(ctx context.Context, id string, decision Decision) (model.ApplicationResult, error) {
	switch decision {
	case DecisionAccept:
		return s.applier.Accept(ctx, id)
	case DecisionReject:
		if err := s.applier.Reject(ctx, id); err != nil {
			return model.ApplicationResult{}, err
		}
		return model.ApplicationResult{Success: true}, nil
	}
	return model.ApplicationResult{}, eris.Errorf("service: unknown decision %q", decision)
}

// ApplyEnrichment applies an arbitrary enrichment application, outside
// any discrepancy.
func (s *Service) ApplyEnrichment(ctx context.Context, app model.EnrichmentApplication) model.ApplicationResult {
	return s.applier.Apply(ctx, app)
}

// RejectEnrichment rejects the suggestion carried by an open discrepancy.
func (s *Service) RejectEnrichment(ctx context.Context, discrepancyID string) error {
	return s.applier.Reject(ctx, discrepancyID)
}

// ListEvents returns a coin's event history, oldest first.
func (s *Service) ListEvents(ctx context.Context, coinID string, filter store.EventFilter) ([]model.DomainEvent, error) {
	return s.store.ListEventsByRecord(ctx, coinID, filter)
}

// Summary reports discrepancy counts and suggestion accuracy buckets.
func (s *Service) Summary(ctx context.Context, bucketWidth float64) (model.AuditSummary, error) {
	var sum model.AuditSummary
	var err error

	if sum.OpenDiscrepancies, err = s.store.CountDiscrepancies(ctx, model.DiscrepancyOpen); err != nil {
		return sum, eris.Wrap(err, "service: count open discrepancies")
	}
	if sum.ResolvedAccepted, err = s.store.CountDiscrepancies(ctx, model.DiscrepancyResolvedAccepted); err != nil {
		return sum, eris.Wrap(err, "service: count accepted discrepancies")
	}
	if sum.ResolvedRejected, err = s.store.CountDiscrepancies(ctx, model.DiscrepancyResolvedRejected); err != nil {
		return sum, eris.Wrap(err, "service: count rejected discrepancies")
	}
	if sum.TotalEvents, err = s.store.CountEvents(ctx); err != nil {
		return sum, eris.Wrap(err, "service: count events")
	}
	if sum.Accuracy, err = s.store.AccuracyStats(ctx, bucketWidth); err != nil {
		return sum, eris.Wrap(err, "service: accuracy stats")
	}
	return sum, nil
}
