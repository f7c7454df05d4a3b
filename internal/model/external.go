package model

import "time"

// ExternalRecord is an immutable snapshot of field values observed for a
// single coin from one outside source (auction listing, catalog, LLM).
type ExternalRecord struct {
	Source     string                `json:"source"`
	CoinID     string                `json:"coin_id"`
	Fields     map[FieldName]string  `json:"fields"`
	Confidence map[FieldName]float64 `json:"confidence,omitempty"`
	ObservedAt time.Time             `json:"observed_at"`
}

// Field returns the externally observed value for the named field.
func (e *ExternalRecord) Field(name FieldName) (string, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// FieldConfidence returns the per-field confidence if the source reported
// one, falling back to the given default.
func (e *ExternalRecord) FieldConfidence(name FieldName, fallback float64) float64 {
	if c, ok := e.Confidence[name]; ok {
		return c
	}
	return fallback
}
