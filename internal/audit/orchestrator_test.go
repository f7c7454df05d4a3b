package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/source"
	"github.com/numisworks/coindex/internal/store"
)

// fakeSource returns a canned record or error per coin id.
type fakeSource struct {
	name    string
	records map[string]*model.ExternalRecord
	err     error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(_ context.Context, coin *model.Coin) (*model.ExternalRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[coin.ID]
	if !ok {
		return nil, source.ErrNotFound
	}
	return rec, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedCoin(t *testing.T, st store.Store, coin *model.Coin) *model.Coin {
	t.Helper()
	require.NoError(t, st.CreateCoin(context.Background(), coin))
	return coin
}

func TestOrchestrator_DedupeKeepsMaxConfidence(t *testing.T) {
	coin := testCoin()
	ext := extRecord(map[model.FieldName]string{model.FieldGrade: "EF"})

	// Two strategies covering the same field: the higher confidence wins.
	orch := NewOrchestrator([]Strategy{GradeStrategy{}, lowConfGradeStrategy{}})
	ds := orch.Audit(coin, ext)
	require.Len(t, ds, 1)
	assert.Equal(t, 1.0, ds[0].Confidence)
}

// lowConfGradeStrategy double-covers grade at a lower confidence.
type lowConfGradeStrategy struct{}

func (lowConfGradeStrategy) Name() string { return "grade-low" }

func (lowConfGradeStrategy) Audit(coin *model.Coin, ext *model.ExternalRecord) []model.Discrepancy {
	obs, ok := ext.Field(model.FieldGrade)
	if !ok {
		return nil
	}
	cur, ok := coin.Field(model.FieldGrade)
	if !ok || cur == obs {
		return nil
	}
	return []model.Discrepancy{newDiscrepancy(coin, ext, model.FieldGrade, cur, obs, 0.3)}
}

func TestRunner_RunRecord(t *testing.T) {
	st := newTestStore(t)
	coin := seedCoin(t, st, testCoin())

	src := &fakeSource{
		name: "catalog",
		records: map[string]*model.ExternalRecord{
			coin.ID: {
				Source: "catalog",
				CoinID: coin.ID,
				Fields: map[model.FieldName]string{
					model.FieldMint:  "Alexandria",
					model.FieldGrade: "VF",
				},
			},
		},
	}

	r := NewRunner(NewOrchestrator(DefaultStrategies()), st, []source.Source{src}, 1)
	res, err := r.RunRecord(context.Background(), coin.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, res.SourcesUsed)
	assert.Equal(t, 1, res.NewOpen)
	require.Len(t, res.Discrepancies, 1)
	assert.Equal(t, model.FieldMint, res.Discrepancies[0].Field)

	open, err := st.ListDiscrepancies(context.Background(), store.DiscrepancyFilter{CoinID: coin.ID, Status: model.DiscrepancyOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestRunner_RunRecord_SourceNotFoundSkipped(t *testing.T) {
	st := newTestStore(t)
	coin := seedCoin(t, st, testCoin())

	missing := &fakeSource{name: "catalog"}
	blocked := &fakeSource{name: "auction", err: source.ErrBlocked}

	r := NewRunner(NewOrchestrator(DefaultStrategies()), st, []source.Source{missing, blocked}, 1)
	res, err := r.RunRecord(context.Background(), coin.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.SourcesUsed)
	assert.Empty(t, res.Discrepancies)
}

func TestRunner_RunRecord_MissingCoin(t *testing.T) {
	st := newTestStore(t)

	r := NewRunner(NewOrchestrator(DefaultStrategies()), st, nil, 1)
	_, err := r.RunRecord(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestRunner_RunRecord_CancelledBeforePersist(t *testing.T) {
	st := newTestStore(t)
	coin := seedCoin(t, st, testCoin())

	cancelling := &fakeSource{name: "catalog"}
	r := NewRunner(NewOrchestrator(DefaultStrategies()), st, []source.Source{cancelling}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.RunRecord(ctx, coin.ID)
	require.Error(t, err)

	open, err := st.ListDiscrepancies(context.Background(), store.DiscrepancyFilter{CoinID: coin.ID})
	require.NoError(t, err)
	assert.Empty(t, open, "cancelled run persists nothing")
}

func TestRunner_RunMany_FailureIsolation(t *testing.T) {
	st := newTestStore(t)
	good := seedCoin(t, st, testCoin())
	other := seedCoin(t, st, &model.Coin{ID: "coin-2", Grade: strPtr("EF")})

	src := &fakeSource{
		name: "catalog",
		records: map[string]*model.ExternalRecord{
			good.ID:  {Source: "catalog", CoinID: good.ID, Fields: map[model.FieldName]string{model.FieldGrade: "EF"}},
			other.ID: {Source: "catalog", CoinID: other.ID, Fields: map[model.FieldName]string{model.FieldGrade: "VF"}},
		},
	}

	r := NewRunner(NewOrchestrator(DefaultStrategies()), st, []source.Source{src}, 2)
	// "ghost" does not exist in the store; its failure must not abort the rest.
	batch := r.RunMany(context.Background(), []string{good.ID, "ghost", other.ID})

	assert.Equal(t, 3, batch.Processed)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)

	require.Len(t, batch.Records, 3)
	assert.Empty(t, batch.Records[0].Error)
	assert.NotEmpty(t, batch.Records[1].Error)
	assert.Empty(t, batch.Records[2].Error)
}
