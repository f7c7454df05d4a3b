package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numisworks/coindex/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func seedCoin(t *testing.T, st *SQLiteStore) *model.Coin {
	t.Helper()
	coin := &model.Coin{
		Issuer:    strPtr("Antoninus Pius"),
		Mint:      strPtr("Rome"),
		YearStart: intPtr(138),
		YearEnd:   intPtr(161),
		Grade:     strPtr("VF"),
	}
	require.NoError(t, st.CreateCoin(context.Background(), coin))
	return coin
}

func openDiscrepancy(coinID string, field model.FieldName, current, external string) model.Discrepancy {
	cur := current
	ext := external
	d := model.Discrepancy{
		CoinID:        coinID,
		Field:         field,
		CurrentValue:  &cur,
		ExternalValue: &ext,
		Confidence:    0.9,
		Source:        "catalog",
		Status:        model.DiscrepancyOpen,
	}
	d.IdentityHash = model.DiscrepancyIdentity(coinID, field, d.Source, d.CurrentValue, d.ExternalValue)
	return d
}

// --- Coins ---

func TestSQLite_Coin_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	coin := seedCoin(t, st)
	require.NotEmpty(t, coin.ID)

	got, err := st.GetCoin(ctx, coin.ID)
	require.NoError(t, err)
	assert.Equal(t, "Antoninus Pius", *got.Issuer)
	assert.Equal(t, 138, *got.YearStart)
	assert.Nil(t, got.State)
}

func TestSQLite_Coin_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetCoin(context.Background(), "nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Coin_UpdateField(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)

	require.NoError(t, st.UpdateCoinField(ctx, coin.ID, model.FieldMint, "Alexandria"))

	got, err := st.GetCoin(ctx, coin.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alexandria", *got.Mint)
}

func TestSQLite_Coin_UpdateYearParsesSignedInt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)

	// BCE years are stored as negative integers.
	require.NoError(t, st.UpdateCoinField(ctx, coin.ID, model.FieldYearStart, "-27"))

	got, err := st.GetCoin(ctx, coin.ID)
	require.NoError(t, err)
	assert.Equal(t, -27, *got.YearStart)
}

func TestSQLite_Coin_UpdateFieldRejectsUnknown(t *testing.T) {
	st := newTestSQLiteStore(t)
	coin := seedCoin(t, st)

	err := st.UpdateCoinField(context.Background(), coin.ID, "legend; DROP TABLE coins", "x")
	require.Error(t, err)
}

func TestSQLite_Coin_UpdateFieldMissingCoin(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateCoinField(context.Background(), "nope", model.FieldGrade, "EF")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Coin_ListAndDelete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := seedCoin(t, st)
	b := seedCoin(t, st)

	coins, err := st.ListCoins(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, coins, 2)

	ids, err := st.ListCoinIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	require.NoError(t, st.DeleteCoin(ctx, a.ID))
	_, err = st.GetCoin(ctx, a.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

// --- Discrepancies ---

func TestSQLite_Discrepancy_InsertAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)

	n, err := st.InsertDiscrepancies(ctx, []model.Discrepancy{
		openDiscrepancy(coin.ID, model.FieldMint, "Rome", "Alexandria"),
		openDiscrepancy(coin.ID, model.FieldGrade, "VF", "EF"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ds, err := st.ListDiscrepancies(ctx, DiscrepancyFilter{CoinID: coin.ID, Status: model.DiscrepancyOpen})
	require.NoError(t, err)
	assert.Len(t, ds, 2)
}

func TestSQLite_Discrepancy_RerunIsNoOp(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)

	d := openDiscrepancy(coin.ID, model.FieldMint, "Rome", "Alexandria")
	n, err := st.InsertDiscrepancies(ctx, []model.Discrepancy{d})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Auditing again with the same values must not duplicate the open row.
	again := openDiscrepancy(coin.ID, model.FieldMint, "Rome", "Alexandria")
	n, err = st.InsertDiscrepancies(ctx, []model.Discrepancy{again})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := st.CountDiscrepancies(ctx, model.DiscrepancyOpen)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLite_Discrepancy_ResolvedDoesNotBlockNewOpen(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)

	d := openDiscrepancy(coin.ID, model.FieldMint, "Rome", "Alexandria")
	_, err := st.InsertDiscrepancies(ctx, []model.Discrepancy{d})
	require.NoError(t, err)

	ds, err := st.ListDiscrepancies(ctx, DiscrepancyFilter{CoinID: coin.ID})
	require.NoError(t, err)
	require.Len(t, ds, 1)
	require.NoError(t, st.ResolveDiscrepancy(ctx, ds[0].ID, model.DiscrepancyResolvedRejected))

	// The same pair observed again after resolution opens a fresh row.
	n, err := st.InsertDiscrepancies(ctx, []model.Discrepancy{openDiscrepancy(coin.ID, model.FieldMint, "Rome", "Alexandria")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_Discrepancy_ResolveTwice(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)

	_, err := st.InsertDiscrepancies(ctx, []model.Discrepancy{openDiscrepancy(coin.ID, model.FieldGrade, "VF", "EF")})
	require.NoError(t, err)
	ds, err := st.ListDiscrepancies(ctx, DiscrepancyFilter{CoinID: coin.ID})
	require.NoError(t, err)
	require.Len(t, ds, 1)

	require.NoError(t, st.ResolveDiscrepancy(ctx, ds[0].ID, model.DiscrepancyResolvedAccepted))
	err = st.ResolveDiscrepancy(ctx, ds[0].ID, model.DiscrepancyResolvedRejected)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := st.GetDiscrepancy(ctx, ds[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.DiscrepancyResolvedAccepted, got.Status)
	assert.NotNil(t, got.ResolvedAt)
}

func TestSQLite_Discrepancy_ListFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)

	a := openDiscrepancy(coin.ID, model.FieldMint, "Rome", "Alexandria")
	b := openDiscrepancy(coin.ID, model.FieldGrade, "VF", "EF")
	b.Source = "auction"
	b.IdentityHash = model.DiscrepancyIdentity(coin.ID, b.Field, b.Source, b.CurrentValue, b.ExternalValue)
	_, err := st.InsertDiscrepancies(ctx, []model.Discrepancy{a, b})
	require.NoError(t, err)

	bySource, err := st.ListDiscrepancies(ctx, DiscrepancyFilter{Source: "auction"})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, model.FieldGrade, bySource[0].Field)

	byField, err := st.ListDiscrepancies(ctx, DiscrepancyFilter{Field: model.FieldMint})
	require.NoError(t, err)
	require.Len(t, byField, 1)
	assert.Equal(t, "catalog", byField[0].Source)
}

// --- Events ---

func TestSQLite_Event_AppendAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)

	first, err := model.NewEvent(coin.ID, model.EventCoinCreated, nil)
	require.NoError(t, err)
	second, err := model.NewEvent(coin.ID, model.EventAttributeChanged, model.AttributeChangedPayload{
		Field:      model.FieldMint,
		NewValue:   "Alexandria",
		SourceType: model.SourceManual,
	})
	require.NoError(t, err)
	// Identical timestamps force the seq tie-break.
	second.OccurredAt = first.OccurredAt

	_, err = st.AppendEvent(ctx, first)
	require.NoError(t, err)
	_, err = st.AppendEvent(ctx, second)
	require.NoError(t, err)

	events, err := st.ListEventsByRecord(ctx, coin.ID, EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventCoinCreated, events[0].EventType)
	assert.Equal(t, model.EventAttributeChanged, events[1].EventType)
	assert.Less(t, events[0].Seq, events[1].Seq)
}

func TestSQLite_Event_FilterByType(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)

	for _, typ := range []model.EventType{model.EventCoinCreated, model.EventAttributeChanged, model.EventAttributeChanged} {
		e, err := model.NewEvent(coin.ID, typ, nil)
		require.NoError(t, err)
		_, err = st.AppendEvent(ctx, e)
		require.NoError(t, err)
	}

	events, err := st.ListEventsByRecord(ctx, coin.ID, EventFilter{EventType: model.EventAttributeChanged})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	total, err := st.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestSQLite_Event_FilterByWindow(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)

	old, err := model.NewEvent(coin.ID, model.EventCoinCreated, nil)
	require.NoError(t, err)
	old.OccurredAt = time.Now().UTC().Add(-48 * time.Hour)
	recent, err := model.NewEvent(coin.ID, model.EventAttributeChanged, nil)
	require.NoError(t, err)

	_, err = st.AppendEvent(ctx, old)
	require.NoError(t, err)
	_, err = st.AppendEvent(ctx, recent)
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	events, err := st.ListEventsByRecord(ctx, coin.ID, EventFilter{Since: &cutoff})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventAttributeChanged, events[0].EventType)
}

func TestSQLite_AccuracyStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coin := seedCoin(t, st)

	append := func(typ model.EventType, confidence float64) {
		e, err := model.NewEvent(coin.ID, typ, model.SuggestionPayload{
			Field:      model.FieldMint,
			Value:      "Alexandria",
			Confidence: confidence,
			Source:     "catalog",
			SourceType: model.SourceAudit,
		})
		require.NoError(t, err)
		_, err = st.AppendEvent(ctx, e)
		require.NoError(t, err)
	}

	append(model.EventSuggestionAccepted, 0.85)
	append(model.EventSuggestionAutoApplied, 0.95)
	append(model.EventSuggestionRejected, 0.85)
	append(model.EventSuggestionRejected, 0.15)

	stats, err := st.AccuracyStats(ctx, 0.1)
	require.NoError(t, err)
	require.Len(t, stats.Buckets, 10)

	assert.Equal(t, 1, stats.Buckets[8].Accepted) // 0.85
	assert.Equal(t, 1, stats.Buckets[8].Rejected)
	assert.Equal(t, 1, stats.Buckets[9].Accepted) // 0.95, auto-applied counts as accept
	assert.Equal(t, 1, stats.Buckets[1].Rejected) // 0.15
}
