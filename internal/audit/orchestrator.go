package audit

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/source"
	"github.com/numisworks/coindex/internal/store"
)

// Orchestrator runs the full strategy set against a (coin, external
// record) pair and aggregates the results.
type Orchestrator struct {
	strategies []Strategy
}

// NewOrchestrator creates an Orchestrator over an ordered strategy list.
func NewOrchestrator(strategies []Strategy) *Orchestrator {
	return &Orchestrator{strategies: strategies}
}

// Audit runs every registered strategy and deduplicates by (field, source),
// keeping the highest-confidence entry should the strategy set ever
// double-cover a field.
func (o *Orchestrator) Audit(coin *model.Coin, ext *model.ExternalRecord) []model.Discrepancy {
	type key struct {
		field  model.FieldName
		source string
	}
	best := make(map[key]model.Discrepancy)
	var order []key

	for _, s := range o.strategies {
		for _, d := range s.Audit(coin, ext) {
			k := key{d.Field, d.Source}
			if prev, ok := best[k]; ok {
				if d.Confidence > prev.Confidence {
					best[k] = d
				}
				continue
			}
			best[k] = d
			order = append(order, k)
		}
	}

	out := make([]model.Discrepancy, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// RecordResult is the per-coin outcome of an audit run.
type RecordResult struct {
	CoinID        string              `json:"coin_id"`
	Discrepancies []model.Discrepancy `json:"discrepancies,omitempty"`
	NewOpen       int                 `json:"new_open"`
	SourcesUsed   int                 `json:"sources_used"`
	Error         string              `json:"error,omitempty"`
}

// BatchResult aggregates an audit over many coins. Failed records are
// excluded from success metrics but never abort the batch.
type BatchResult struct {
	Processed int            `json:"processed"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Records   []RecordResult `json:"records"`
}

// Runner executes audit runs against the store and the configured
// external sources.
type Runner struct {
	orch        *Orchestrator
	store       store.Store
	sources     []source.Source
	concurrency int
}

// NewRunner wires an audit Runner. Concurrency bounds the batch worker
// pool; values below 1 are clamped to 1.
func NewRunner(orch *Orchestrator, st store.Store, sources []source.Source, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{orch: orch, store: st, sources: sources, concurrency: concurrency}
}

// RunRecord audits a single coin against every configured source and
// persists any new open discrepancies. A source that reports no data
// (not found, blocked, transient failure) contributes nothing and is not
// an error. Discrepancies persist only after the full strategy pass
// completes, so a cancelled run never leaves a coin half-processed.
func (r *Runner) RunRecord(ctx context.Context, coinID string) (RecordResult, error) {
	log := zap.L().With(zap.String("coin_id", coinID))
	res := RecordResult{CoinID: coinID}

	coin, err := r.store.GetCoin(ctx, coinID)
	if err != nil {
		return res, eris.Wrapf(err, "audit: load coin %s", coinID)
	}

	var found []model.Discrepancy
	for _, src := range r.sources {
		ext, err := src.Fetch(ctx, coin)
		if err != nil {
			if source.IsUnavailable(err) {
				log.Info("audit: no external data from source",
					zap.String("source", src.Name()),
					zap.String("reason", err.Error()),
				)
				continue
			}
			return res, eris.Wrapf(err, "audit: source %s", src.Name())
		}
		res.SourcesUsed++
		found = append(found, r.orch.Audit(coin, ext)...)
	}

	if err := ctx.Err(); err != nil {
		return res, eris.Wrap(err, "audit: cancelled before persist")
	}

	inserted, err := r.store.InsertDiscrepancies(ctx, found)
	if err != nil {
		return res, eris.Wrapf(err, "audit: persist discrepancies for %s", coinID)
	}

	res.Discrepancies = found
	res.NewOpen = inserted
	log.Info("audit: record complete",
		zap.Int("sources_used", res.SourcesUsed),
		zap.Int("discrepancies", len(found)),
		zap.Int("new_open", inserted),
	)
	return res, nil
}

// RunMany audits each coin independently with a bounded worker pool. One
// coin's failure is recorded in its RecordResult and never aborts the rest.
func (r *Runner) RunMany(ctx context.Context, coinIDs []string) BatchResult {
	results := make([]RecordResult, len(coinIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	var mu sync.Mutex
	for i, id := range coinIDs {
		g.Go(func() error {
			res, err := r.RunRecord(gctx, id)
			if err != nil {
				res.Error = err.Error()
				zap.L().Error("audit: record failed", zap.String("coin_id", id), zap.Error(err))
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil // per-record errors never fail the group
		})
	}
	_ = g.Wait()

	batch := BatchResult{Records: results, Processed: len(results)}
	for _, res := range results {
		if res.Error == "" {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}

	zap.L().Info("audit: batch complete",
		zap.Int("processed", batch.Processed),
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("failed", batch.Failed),
	)
	return batch
}
