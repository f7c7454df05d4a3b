package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numisworks/coindex/internal/audit"
	"github.com/numisworks/coindex/internal/enrich"
	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/source"
	"github.com/numisworks/coindex/internal/store"
)

func strPtr(s string) *string { return &s }

// fakeSource returns one canned record for every coin.
type fakeSource struct {
	name   string
	fields map[model.FieldName]string
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(_ context.Context, coin *model.Coin) (*model.ExternalRecord, error) {
	if f.fields == nil {
		return nil, source.ErrNotFound
	}
	return &model.ExternalRecord{Source: f.name, CoinID: coin.ID, Fields: f.fields}, nil
}

func newTestService(t *testing.T, sources []source.Source, pol enrich.Policy) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	runner := audit.NewRunner(audit.NewOrchestrator(audit.DefaultStrategies()), st, sources, 2)
	return New(st, runner, enrich.NewApplier(st), pol), st
}

func seedCoin(t *testing.T, svc *Service) *model.Coin {
	t.Helper()
	coin, err := svc.CreateCoin(context.Background(), &model.Coin{
		Issuer: strPtr("Hadrian"),
		Mint:   strPtr("Rome"),
		Grade:  strPtr("VF"),
	})
	require.NoError(t, err)
	return coin
}

func TestService_CreateCoinEmitsEvent(t *testing.T) {
	svc, _ := newTestService(t, nil, enrich.Policy{})
	coin := seedCoin(t, svc)

	events, err := svc.ListEvents(context.Background(), coin.ID, store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventCoinCreated, events[0].EventType)
}

func TestService_DeleteCoinKeepsHistory(t *testing.T) {
	svc, _ := newTestService(t, nil, enrich.Policy{})
	coin := seedCoin(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.DeleteCoin(ctx, coin.ID))
	_, err := svc.GetCoin(ctx, coin.ID)
	require.Error(t, err)

	events, err := svc.ListEvents(ctx, coin.ID, store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventCoinDeleted, events[1].EventType)
}

func TestService_AddImage(t *testing.T) {
	svc, _ := newTestService(t, nil, enrich.Policy{})
	coin := seedCoin(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.AddImage(ctx, coin.ID, "img-1", "obverse"))

	events, err := svc.ListEvents(ctx, coin.ID, store.EventFilter{EventType: model.EventImageAdded})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Payload), `"image_id":"img-1"`)

	require.Error(t, svc.AddImage(ctx, "ghost", "img-2", ""))
}

func TestService_RunAudit(t *testing.T) {
	src := &fakeSource{name: "catalog", fields: map[model.FieldName]string{model.FieldMint: "Alexandria"}}
	svc, _ := newTestService(t, []source.Source{src}, enrich.Policy{})
	coin := seedCoin(t, svc)
	ctx := context.Background()

	res, err := svc.RunAudit(ctx, coin.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewOpen)
	assert.Zero(t, res.AutoApplied)

	// The pass closes with an enrichment-completed event.
	events, err := svc.ListEvents(ctx, coin.ID, store.EventFilter{EventType: model.EventEnrichmentCompleted})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Payload), `"new_open":1`)
}

func TestService_RunAudit_AutoApply(t *testing.T) {
	// Grade mismatches carry confidence 1.0, above the threshold.
	src := &fakeSource{name: "catalog", fields: map[model.FieldName]string{model.FieldGrade: "EF"}}
	svc, _ := newTestService(t, []source.Source{src}, enrich.Policy{AutoApplyThreshold: 0.9})
	coin := seedCoin(t, svc)
	ctx := context.Background()

	res, err := svc.RunAudit(ctx, coin.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewOpen)
	assert.Equal(t, 1, res.AutoApplied)

	got, err := svc.GetCoin(ctx, coin.ID)
	require.NoError(t, err)
	assert.Equal(t, "EF", *got.Grade)

	open, err := svc.ListDiscrepancies(ctx, store.DiscrepancyFilter{Status: model.DiscrepancyOpen})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestService_RunAuditAll(t *testing.T) {
	src := &fakeSource{name: "catalog", fields: map[model.FieldName]string{model.FieldMint: "Alexandria"}}
	svc, _ := newTestService(t, []source.Source{src}, enrich.Policy{})
	seedCoin(t, svc)
	seedCoin(t, svc)

	batch, err := svc.RunAuditAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Processed)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Zero(t, batch.Failed)
}

func TestService_ResolveDiscrepancy(t *testing.T) {
	src := &fakeSource{name: "catalog", fields: map[model.FieldName]string{model.FieldMint: "Alexandria"}}
	svc, _ := newTestService(t, []source.Source{src}, enrich.Policy{})
	coin := seedCoin(t, svc)
	ctx := context.Background()

	_, err := svc.RunAudit(ctx, coin.ID)
	require.NoError(t, err)

	open, err := svc.ListDiscrepancies(ctx, store.DiscrepancyFilter{Status: model.DiscrepancyOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)

	res, err := svc.ResolveDiscrepancy(ctx, open[0].ID, DecisionAccept)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	got, err := svc.GetCoin(ctx, coin.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alexandria", *got.Mint)
}

func TestService_ResolveDiscrepancy_Reject(t *testing.T) {
	src := &fakeSource{name: "catalog", fields: map[model.FieldName]string{model.FieldMint: "Alexandria"}}
	svc, _ := newTestService(t, []source.Source{src}, enrich.Policy{})
	coin := seedCoin(t, svc)
	ctx := context.Background()

	_, err := svc.RunAudit(ctx, coin.ID)
	require.NoError(t, err)
	open, err := svc.ListDiscrepancies(ctx, store.DiscrepancyFilter{Status: model.DiscrepancyOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)

	res, err := svc.ResolveDiscrepancy(ctx, open[0].ID, DecisionReject)
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err := svc.GetCoin(ctx, coin.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rome", *got.Mint)
}

func TestService_Summary(t *testing.T) {
	src := &fakeSource{name: "catalog", fields: map[model.FieldName]string{model.FieldGrade: "EF"}}
	svc, _ := newTestService(t, []source.Source{src}, enrich.Policy{AutoApplyThreshold: 0.9})
	seedCoin(t, svc)
	ctx := context.Background()

	_, err := svc.RunAuditAll(ctx)
	require.NoError(t, err)

	sum, err := svc.Summary(ctx, 0.1)
	require.NoError(t, err)
	assert.Zero(t, sum.OpenDiscrepancies)
	assert.Equal(t, 1, sum.ResolvedAccepted)
	assert.Positive(t, sum.TotalEvents)
	require.Len(t, sum.Accuracy.Buckets, 10)
	assert.Equal(t, 1, sum.Accuracy.Buckets[9].Accepted)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("accept")
	require.NoError(t, err)
	assert.Equal(t, DecisionAccept, d)

	_, err = ParseDecision("maybe")
	require.Error(t, err)
}
