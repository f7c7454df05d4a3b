package model

// SourceType tags the provenance of an enrichment.
type SourceType string

const (
	SourceCatalog SourceType = "catalog"
	SourceAudit   SourceType = "audit"
	SourceManual  SourceType = "manual"
	SourceLLM     SourceType = "llm"
)

// EnrichmentApplication is the command to write one corrected field value
// into a coin record. It is ephemeral: the durable trace of an applied
// enrichment is the domain event it emits.
type EnrichmentApplication struct {
	CoinID     string     `json:"coin_id"`
	Field      FieldName  `json:"field"`
	NewValue   string     `json:"new_value"`
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
}

// ApplicationResult reports the outcome of an enrichment application.
// It is always returned, success or not, so callers can show both the
// attempted and the actual state without unwrapping errors.
type ApplicationResult struct {
	Success  bool      `json:"success"`
	Field    FieldName `json:"field"`
	OldValue *string   `json:"old_value"`
	NewValue string    `json:"new_value"`
	Error    string    `json:"error,omitempty"`
}
