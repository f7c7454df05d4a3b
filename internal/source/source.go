// Package source acquires external records for coins from reference
// catalogs, auction archives and the LLM suggester.
package source

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/resilience"
)

// ErrNotFound means the source has no record for this coin.
var ErrNotFound = eris.New("source: no record found")

// ErrBlocked means the host refused us (403/429 after retries). Callers
// back off the whole source, not just the one coin.
var ErrBlocked = eris.New("source: blocked by host")

// Source yields one externally observed record for a coin. All three
// failure modes (not found, blocked, transient) surface as errors that
// IsUnavailable recognizes; the audit runner maps them to "no external
// data for this record".
type Source interface {
	Name() string
	Fetch(ctx context.Context, coin *model.Coin) (*model.ExternalRecord, error)
}

// IsUnavailable reports whether the error means "no external data right
// now" rather than a bug worth failing a record over.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrBlocked) ||
		resilience.IsTransient(err)
}
