package enrich

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/store"
)

// Policy controls unattended acceptance of audit findings. A zero
// threshold disables auto-apply entirely; anything else accepts open
// discrepancies whose detection confidence meets it.
type Policy struct {
	AutoApplyThreshold float64
}

// Enabled reports whether the policy will ever apply anything.
func (p Policy) Enabled() bool {
	return p.AutoApplyThreshold > 0
}

// ApplyPolicy auto-accepts the coin's open discrepancies at or above the
// policy threshold and returns how many were applied. Individual apply
// failures are logged and skipped so one bad row cannot block the rest.
func (a *Applier) ApplyPolicy(ctx context.Context, coinID string, pol Policy) (int, error) {
	if !pol.Enabled() {
		return 0, nil
	}

	open, err := a.store.ListDiscrepancies(ctx, store.DiscrepancyFilter{
		CoinID: coinID,
		Status: model.DiscrepancyOpen,
	})
	if err != nil {
		return 0, eris.Wrapf(err, "enrich: list open discrepancies for %s", coinID)
	}

	applied := 0
	for _, d := range open {
		if d.Confidence < pol.AutoApplyThreshold {
			continue
		}
		res, err := a.AcceptAuto(ctx, d.ID)
		if err != nil || !res.Success {
			zap.L().Warn("enrich: auto-apply skipped",
				zap.String("discrepancy_id", d.ID),
				zap.String("field", string(d.Field)),
				zap.Error(err),
				zap.String("apply_error", res.Error),
			)
			continue
		}
		applied++
	}
	if applied > 0 {
		zap.L().Info("enrich: auto-applied discrepancies",
			zap.String("coin_id", coinID), zap.Int("applied", applied))
	}
	return applied, nil
}
