package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/numisworks/coindex/internal/model"
)

// ErrNotFound is returned when a coin, discrepancy or event id is unknown.
var ErrNotFound = eris.New("not found")

// DiscrepancyFilter specifies criteria for listing discrepancies.
type DiscrepancyFilter struct {
	CoinID string                  `json:"coin_id,omitempty"`
	Status model.DiscrepancyStatus `json:"status,omitempty"`
	Source string                  `json:"source,omitempty"`
	Field  model.FieldName         `json:"field,omitempty"`
	Limit  int                     `json:"limit,omitempty"`
	Offset int                     `json:"offset,omitempty"`
}

// EventFilter specifies criteria for listing a coin's events.
type EventFilter struct {
	EventType model.EventType `json:"event_type,omitempty"`
	Since     *time.Time      `json:"since,omitempty"`
	Until     *time.Time      `json:"until,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for the audit and enrichment
// engine. The events table is append-only: implementations expose no way
// to update or delete a written event.
type Store interface {
	// Coins
	CreateCoin(ctx context.Context, coin *model.Coin) error
	GetCoin(ctx context.Context, id string) (*model.Coin, error)
	ListCoins(ctx context.Context, limit, offset int) ([]model.Coin, error)
	ListCoinIDs(ctx context.Context) ([]string, error)
	UpdateCoinField(ctx context.Context, id string, field model.FieldName, value string) error
	DeleteCoin(ctx context.Context, id string) error

	// Discrepancies
	InsertDiscrepancies(ctx context.Context, ds []model.Discrepancy) (int, error)
	GetDiscrepancy(ctx context.Context, id string) (*model.Discrepancy, error)
	ListDiscrepancies(ctx context.Context, filter DiscrepancyFilter) ([]model.Discrepancy, error)
	ResolveDiscrepancy(ctx context.Context, id string, status model.DiscrepancyStatus) error
	CountDiscrepancies(ctx context.Context, status model.DiscrepancyStatus) (int, error)

	// Events (append-only)
	AppendEvent(ctx context.Context, e model.DomainEvent) (string, error)
	ListEventsByRecord(ctx context.Context, coinID string, filter EventFilter) ([]model.DomainEvent, error)
	CountEvents(ctx context.Context) (int, error)
	AccuracyStats(ctx context.Context, bucketWidth float64) (model.AccuracyStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// coinColumn maps an allow-listed field name to its column, rejecting
// anything else so a field name can never be spliced into SQL unchecked.
func coinColumn(f model.FieldName) (string, bool) {
	if !model.AllowedFields[f] {
		return "", false
	}
	return string(f), true
}
