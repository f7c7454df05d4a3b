package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DiscrepancyStatus is the lifecycle state of a detected mismatch.
type DiscrepancyStatus string

const (
	DiscrepancyOpen             DiscrepancyStatus = "open"
	DiscrepancyResolvedAccepted DiscrepancyStatus = "resolved_accepted"
	DiscrepancyResolvedRejected DiscrepancyStatus = "resolved_rejected"
)

// Discrepancy records a field-level mismatch between a coin's current
// value and an externally observed value. Once resolved it is never
// re-opened; a later audit run that still sees the mismatch opens a new
// row with the same identity hash.
type Discrepancy struct {
	ID            string            `json:"id"`
	IdentityHash  string            `json:"identity_hash"`
	CoinID        string            `json:"coin_id"`
	Field         FieldName         `json:"field"`
	CurrentValue  *string           `json:"current_value"`
	ExternalValue *string           `json:"external_value"`
	Confidence    float64           `json:"confidence"`
	Source        string            `json:"source"`
	Status        DiscrepancyStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
}

// DiscrepancyIdentity computes the deterministic identity hash of a
// mismatch: sha256 over coin id, field, source and the two values with an
// unambiguous separator. Re-auditing an unchanged (coin, external) pair
// yields the same hash, which the store uses to suppress duplicate open
// rows.
func DiscrepancyIdentity(coinID string, field FieldName, source string, current, external *string) string {
	h := sha256.New()
	for _, part := range []string{coinID, string(field), source, nullable(current), nullable(external)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func nullable(s *string) string {
	if s == nil {
		return "\x00nil"
	}
	return *s
}
