package model

import (
	"strconv"
	"time"
)

// Coin is the authoritative record being audited. Nullable fields are
// pointers; an absent value means "not yet observed", which audit
// strategies treat as incomparable rather than mismatched.
type Coin struct {
	ID string `json:"id"`

	// Attribution facet.
	Issuer    *string `json:"issuer,omitempty"`
	Mint      *string `json:"mint,omitempty"`
	YearStart *int    `json:"year_start,omitempty"` // negative = BCE
	YearEnd   *int    `json:"year_end,omitempty"`

	// Grading facet.
	State *string `json:"state,omitempty"`
	Grade *string `json:"grade,omitempty"`

	// Physical facet.
	Weight   *string `json:"weight,omitempty"`
	Diameter *string `json:"diameter,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Field returns the coin's current value for the named field as a string,
// with ok=false when the field is unset.
func (c *Coin) Field(name FieldName) (string, bool) {
	switch name {
	case FieldIssuer:
		return deref(c.Issuer)
	case FieldMint:
		return deref(c.Mint)
	case FieldYearStart:
		return derefInt(c.YearStart)
	case FieldYearEnd:
		return derefInt(c.YearEnd)
	case FieldState:
		return deref(c.State)
	case FieldGrade:
		return deref(c.Grade)
	case FieldWeight:
		return deref(c.Weight)
	case FieldDiameter:
		return deref(c.Diameter)
	}
	return "", false
}

// SetField writes a string value into the named field, parsing year fields
// as signed integers. Unknown fields are ignored; callers validate against
// AllowedFields before mutating.
func (c *Coin) SetField(name FieldName, value string) error {
	switch name {
	case FieldIssuer:
		c.Issuer = &value
	case FieldMint:
		c.Mint = &value
	case FieldYearStart, FieldYearEnd:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		if name == FieldYearStart {
			c.YearStart = &n
		} else {
			c.YearEnd = &n
		}
	case FieldState:
		c.State = &value
	case FieldGrade:
		c.Grade = &value
	case FieldWeight:
		c.Weight = &value
	case FieldDiameter:
		c.Diameter = &value
	}
	return nil
}

func deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

func derefInt(n *int) (string, bool) {
	if n == nil {
		return "", false
	}
	return strconv.Itoa(*n), true
}
