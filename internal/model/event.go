package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// EventType discriminates the domain event union.
type EventType string

const (
	// Coin lifecycle mutations.
	EventCoinCreated      EventType = "coin.created"
	EventAttributeChanged EventType = "coin.attribute_changed"
	EventImageAdded       EventType = "coin.image_added"
	EventCoinDeleted      EventType = "coin.deleted"

	// Suggestion lifecycle.
	EventSuggestionAccepted    EventType = "suggestion.accepted"
	EventSuggestionRejected    EventType = "suggestion.rejected"
	EventSuggestionAutoApplied EventType = "suggestion.auto_applied"
	EventEnrichmentCompleted   EventType = "enrichment.completed"
)

// DomainEvent is an immutable fact appended to the audit log. Events are
// never updated or deleted; coin state stays the authoritative view and
// the log exists for attribution and statistics.
type DomainEvent struct {
	EventID    string          `json:"event_id"`
	CoinID     string          `json:"coin_id"`
	EventType  EventType       `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Seq        int64           `json:"seq,omitempty"` // assigned at append, breaks occurred_at ties
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// AttributeChangedPayload is the payload of an EventAttributeChanged.
type AttributeChangedPayload struct {
	Field      FieldName  `json:"field"`
	OldValue   *string    `json:"old_value"`
	NewValue   string     `json:"new_value"`
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id,omitempty"`
}

// SuggestionPayload is the payload of the suggestion lifecycle events.
// Confidence is the score recorded at suggestion time; accuracy buckets
// are folded from it.
type SuggestionPayload struct {
	Field      FieldName  `json:"field"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source"`
	SourceType SourceType `json:"source_type"`
}

// EnrichmentCompletedPayload closes out one audit-and-enrich pass over a
// record.
type EnrichmentCompletedPayload struct {
	NewOpen     int `json:"new_open"`
	AutoApplied int `json:"auto_applied"`
	SourcesUsed int `json:"sources_used"`
}

// ImageAddedPayload is the payload of an EventImageAdded.
type ImageAddedPayload struct {
	ImageID string `json:"image_id"`
	Side    string `json:"side,omitempty"` // obverse or reverse
}

// NewEvent builds a DomainEvent envelope with a fresh id, UTC timestamp
// and the payload marshaled in place.
func NewEvent(coinID string, typ EventType, payload any) (DomainEvent, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return DomainEvent{}, eris.Wrapf(err, "event: marshal %s payload", typ)
		}
		raw = b
	}
	return DomainEvent{
		EventID:    uuid.New().String(),
		CoinID:     coinID,
		EventType:  typ,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// SuggestionPayloadOf decodes the suggestion payload from an event, used
// when folding accuracy statistics.
func SuggestionPayloadOf(e DomainEvent) (SuggestionPayload, error) {
	var p SuggestionPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, eris.Wrapf(err, "event: unmarshal suggestion payload %s", e.EventID)
	}
	return p, nil
}
