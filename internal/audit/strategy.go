// Package audit detects field-level discrepancies between a coin record
// and externally observed data, and orchestrates audit runs.
package audit

import (
	"strconv"

	"golang.org/x/text/cases"

	"github.com/numisworks/coindex/internal/model"
)

// Strategy inspects one facet of a coin against one external record and
// yields zero or more discrepancies. Strategies are pure: no side effects,
// no errors. Data missing on either side is incomparable, not mismatched.
type Strategy interface {
	Name() string
	Audit(coin *model.Coin, ext *model.ExternalRecord) []model.Discrepancy
}

// Fixed per-strategy confidence constants. These are the policy lever for
// downstream auto-apply, not learned values.
const (
	issuerConfidence = 0.9
	mintConfidence   = 0.8
	yearConfidence   = 0.9
	gradeConfidence  = 1.0
)

// DefaultStrategies returns the fixed ordered strategy set the
// orchestrator consumes.
func DefaultStrategies() []Strategy {
	return []Strategy{
		AttributionStrategy{},
		DateStrategy{},
		GradeStrategy{},
	}
}

var fold = cases.Fold()

// foldEqual compares two strings under Unicode case folding. Issuer and
// mint names mix Latin and Greek forms, where ASCII-only folding is not
// enough.
func foldEqual(a, b string) bool {
	return fold.String(a) == fold.String(b)
}

// newDiscrepancy fills the common fields and computes the identity hash.
func newDiscrepancy(coin *model.Coin, ext *model.ExternalRecord, field model.FieldName, current, external string, confidence float64) model.Discrepancy {
	cur, extVal := current, external
	d := model.Discrepancy{
		CoinID:        coin.ID,
		Field:         field,
		CurrentValue:  &cur,
		ExternalValue: &extVal,
		Confidence:    ext.FieldConfidence(field, confidence),
		Source:        ext.Source,
		Status:        model.DiscrepancyOpen,
	}
	d.IdentityHash = model.DiscrepancyIdentity(coin.ID, field, ext.Source, d.CurrentValue, d.ExternalValue)
	return d
}

// AttributionStrategy compares issuer and mint case-insensitively.
type AttributionStrategy struct{}

func (AttributionStrategy) Name() string { return "attribution" }

func (s AttributionStrategy) Audit(coin *model.Coin, ext *model.ExternalRecord) []model.Discrepancy {
	var out []model.Discrepancy

	if cur, ok := coin.Field(model.FieldIssuer); ok {
		if obs, ok := ext.Field(model.FieldIssuer); ok && !foldEqual(cur, obs) {
			out = append(out, newDiscrepancy(coin, ext, model.FieldIssuer, cur, obs, issuerConfidence))
		}
	}
	if cur, ok := coin.Field(model.FieldMint); ok {
		if obs, ok := ext.Field(model.FieldMint); ok && !foldEqual(cur, obs) {
			out = append(out, newDiscrepancy(coin, ext, model.FieldMint, cur, obs, mintConfidence))
		}
	}
	return out
}

// DateStrategy compares year_start and year_end numerically and
// independently. Years are signed; negative denotes BCE.
type DateStrategy struct{}

func (DateStrategy) Name() string { return "date" }

func (s DateStrategy) Audit(coin *model.Coin, ext *model.ExternalRecord) []model.Discrepancy {
	var out []model.Discrepancy
	for _, field := range []model.FieldName{model.FieldYearStart, model.FieldYearEnd} {
		cur, ok := coin.Field(field)
		if !ok {
			continue
		}
		obs, ok := ext.Field(field)
		if !ok {
			continue
		}
		curYear, err := strconv.Atoi(cur)
		if err != nil {
			continue
		}
		obsYear, err := strconv.Atoi(obs)
		if err != nil {
			// Unparseable external year is unobservable, not a mismatch.
			continue
		}
		if curYear != obsYear {
			out = append(out, newDiscrepancy(coin, ext, field, cur, obs, yearConfidence))
		}
	}
	return out
}

// GradeStrategy compares the grade exactly, with no normalization: grading
// scales are notation-sensitive ("VF" and "vf" come from different
// graders).
type GradeStrategy struct{}

func (GradeStrategy) Name() string { return "grade" }

func (s GradeStrategy) Audit(coin *model.Coin, ext *model.ExternalRecord) []model.Discrepancy {
	obs, ok := ext.Field(model.FieldGrade)
	if !ok {
		return nil
	}
	cur, ok := coin.Field(model.FieldGrade)
	if !ok {
		return nil
	}
	if cur == obs {
		return nil
	}
	return []model.Discrepancy{newDiscrepancy(coin, ext, model.FieldGrade, cur, obs, gradeConfidence)}
}
