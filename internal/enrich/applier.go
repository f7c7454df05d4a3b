// Package enrich applies proposed field corrections to coin records under
// the allow-list and confidence policy, and resolves discrepancies.
package enrich

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/store"
)

// Applier validates and applies enrichment applications, and walks the
// discrepancy resolution paths. Every committed mutation emits exactly
// one attribute-changed event; a failed write emits nothing, so the log
// and the store never disagree on whether a change happened.
type Applier struct {
	store store.Store
}

// NewApplier creates an Applier over the given store.
func NewApplier(st store.Store) *Applier {
	return &Applier{store: st}
}

// Apply writes one corrected field value through the record store.
// Validation failures never touch the store; a write that commits but
// whose event append fails reports failure, since success promises a
// durably appended event.
func (a *Applier) Apply(ctx context.Context, app model.EnrichmentApplication) model.ApplicationResult {
	res := model.ApplicationResult{Field: app.Field, NewValue: app.NewValue}

	if !model.AllowedFields[app.Field] {
		res.Error = "field not allowed"
		return res
	}

	coin, err := a.store.GetCoin(ctx, app.CoinID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			res.Error = "record not found: " + app.CoinID
		} else {
			res.Error = err.Error()
		}
		return res
	}

	// Re-read immediately before writing keeps the old value honest under
	// concurrent callers; the store itself is last-writer-wins.
	if old, ok := coin.Field(app.Field); ok {
		res.OldValue = &old
	}

	if err := a.store.UpdateCoinField(ctx, app.CoinID, app.Field, app.NewValue); err != nil {
		res.Error = err.Error()
		return res
	}

	event, err := model.NewEvent(app.CoinID, model.EventAttributeChanged, model.AttributeChangedPayload{
		Field:      app.Field,
		OldValue:   res.OldValue,
		NewValue:   app.NewValue,
		SourceType: app.SourceType,
		SourceID:   app.SourceID,
	})
	if err == nil {
		_, err = a.store.AppendEvent(ctx, event)
	}
	if err != nil {
		// The write committed but the event did not; the caller must not
		// see success without a durable event.
		res.Error = eris.Wrap(err, "change applied but event append failed").Error()
		return res
	}

	res.Success = true
	zap.L().Info("enrich: field applied",
		zap.String("coin_id", app.CoinID),
		zap.String("field", string(app.Field)),
		zap.String("source_type", string(app.SourceType)),
	)
	return res
}

// Accept resolves an open discrepancy by applying its external value to
// the record, tagging provenance as an audit acceptance. The discrepancy
// stays open if the write fails, so it can be retried.
func (a *Applier) Accept(ctx context.Context, discrepancyID string) (model.ApplicationResult, error) {
	return a.accept(ctx, discrepancyID, model.EventSuggestionAccepted)
}

// AcceptAuto is Accept for the configuration-driven auto-apply policy; it
// records the acceptance as auto-applied so calibration can tell the two
// apart.
func (a *Applier) AcceptAuto(ctx context.Context, discrepancyID string) (model.ApplicationResult, error) {
	return a.accept(ctx, discrepancyID, model.EventSuggestionAutoApplied)
}

func (a *Applier) accept(ctx context.Context, discrepancyID string, eventType model.EventType) (model.ApplicationResult, error) {
	d, err := a.store.GetDiscrepancy(ctx, discrepancyID)
	if err != nil {
		return model.ApplicationResult{}, eris.Wrapf(err, "enrich: load discrepancy %s", discrepancyID)
	}
	if d.Status != model.DiscrepancyOpen {
		return model.ApplicationResult{}, eris.Errorf("enrich: discrepancy %s already %s", discrepancyID, d.Status)
	}
	if d.ExternalValue == nil {
		return model.ApplicationResult{}, eris.Errorf("enrich: discrepancy %s has no external value to apply", discrepancyID)
	}

	res := a.Apply(ctx, model.EnrichmentApplication{
		CoinID:     d.CoinID,
		Field:      d.Field,
		NewValue:   *d.ExternalValue,
		SourceType: model.SourceAudit,
		SourceID:   d.ID,
		Confidence: d.Confidence,
	})
	if !res.Success {
		return res, nil
	}

	if err := a.store.ResolveDiscrepancy(ctx, d.ID, model.DiscrepancyResolvedAccepted); err != nil {
		zap.L().Warn("enrich: applied but failed to mark discrepancy resolved",
			zap.String("discrepancy_id", d.ID), zap.Error(err))
	}

	// The attribute-changed event is already durable at this point, so a
	// lost suggestion event only degrades accuracy statistics, not the
	// mutation trail.
	if err := a.appendSuggestionEvent(ctx, d, eventType); err != nil {
		zap.L().Warn("enrich: failed to append suggestion event",
			zap.String("discrepancy_id", d.ID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
	return res, nil
}

// Reject closes an open discrepancy without touching the record. The
// rejection is still auditable: it appends a suggestion-rejected event
// carrying the confidence recorded at detection time.
func (a *Applier) Reject(ctx context.Context, discrepancyID string) error {
	d, err := a.store.GetDiscrepancy(ctx, discrepancyID)
	if err != nil {
		return eris.Wrapf(err, "enrich: load discrepancy %s", discrepancyID)
	}
	if d.Status != model.DiscrepancyOpen {
		return eris.Errorf("enrich: discrepancy %s already %s", discrepancyID, d.Status)
	}

	if err := a.store.ResolveDiscrepancy(ctx, d.ID, model.DiscrepancyResolvedRejected); err != nil {
		return eris.Wrapf(err, "enrich: reject discrepancy %s", discrepancyID)
	}

	// The resolution is already committed; a failed append still comes
	// back as an error so the caller knows the audit trail is short one
	// event. A rejection leaves no other trace.
	if err := a.appendSuggestionEvent(ctx, d, model.EventSuggestionRejected); err != nil {
		return eris.Wrapf(err, "enrich: discrepancy %s rejected but event append failed", discrepancyID)
	}
	zap.L().Info("enrich: discrepancy rejected",
		zap.String("discrepancy_id", d.ID),
		zap.String("coin_id", d.CoinID),
		zap.String("field", string(d.Field)),
	)
	return nil
}

func (a *Applier) appendSuggestionEvent(ctx context.Context, d *model.Discrepancy, eventType model.EventType) error {
	var value string
	if d.ExternalValue != nil {
		value = *d.ExternalValue
	}
	event, err := model.NewEvent(d.CoinID, eventType, model.SuggestionPayload{
		Field:      d.Field,
		Value:      value,
		Confidence: d.Confidence,
		Source:     d.Source,
		SourceType: model.SourceAudit,
	})
	if err == nil {
		_, err = a.store.AppendEvent(ctx, event)
	}
	return err
}
