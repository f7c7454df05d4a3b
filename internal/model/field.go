package model

import "github.com/rotisserie/eris"

// FieldName identifies one auditable field of a coin record.
type FieldName string

// Coin field names, grouped by facet.
const (
	// Attribution facet.
	FieldIssuer    FieldName = "issuer"
	FieldMint      FieldName = "mint"
	FieldYearStart FieldName = "year_start"
	FieldYearEnd   FieldName = "year_end"

	// Grading facet.
	FieldState FieldName = "state"
	FieldGrade FieldName = "grade"

	// Physical facet.
	FieldWeight   FieldName = "weight"
	FieldDiameter FieldName = "diameter"
)

// AllowedFields is the closed set of fields enrichment is permitted to
// mutate. Structural and identity fields are deliberately absent so no
// enrichment path can rewrite them.
var AllowedFields = map[FieldName]bool{
	FieldIssuer:    true,
	FieldMint:      true,
	FieldYearStart: true,
	FieldYearEnd:   true,
	FieldState:     true,
	FieldGrade:     true,
	FieldWeight:    true,
	FieldDiameter:  true,
}

// ParseField validates a raw field name against the allow-list.
func ParseField(s string) (FieldName, error) {
	f := FieldName(s)
	if !AllowedFields[f] {
		return "", eris.Errorf("unknown field: %q", s)
	}
	return f, nil
}
