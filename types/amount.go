// Package types provides common types used across Settle.
package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every Amount is rounded to.
// All stored and derived balances carry exactly this precision.
const Scale = 8

// Amount is a fixed-point monetary value with Scale fractional digits.
// All arithmetic is exact decimal arithmetic — no binary floating point
// ever touches a balance. Rounding, where it applies, is half away
// from zero.
type Amount struct {
	dec decimal.Decimal
}

// NewAmount creates an Amount from a decimal value, rounding it to Scale
// fractional digits half away from zero.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{dec: d.Round(Scale)}
}

// ParseAmount parses a decimal string ("40.00", "0.00000001") into an Amount.
func ParseAmount(s string) (Amount, error) {
	if s == "" {
		return Amount{}, fmt.Errorf("types: parse amount: empty string")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("types: parse amount %q: %w", s, err)
	}

	return NewAmount(d), nil
}

// MustParseAmount is like ParseAmount but panics on error.
// Use for hardcoded literals in tests and examples.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AmountFromInt creates an Amount from a whole number of currency units.
func AmountFromInt(n int64) Amount {
	return Amount{dec: decimal.NewFromInt(n)}
}

// ZeroAmount returns the zero Amount.
func ZeroAmount() Amount { return Amount{} }

// Arithmetic operations. Results are re-rounded to Scale so that no
// operation can smuggle extra precision into a stored balance.

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{dec: a.dec.Add(b.dec).Round(Scale)}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{dec: a.dec.Sub(b.dec).Round(Scale)}
}

// Neg returns -a.
func (a Amount) Neg() Amount {
	return Amount{dec: a.dec.Neg()}
}

// Comparison methods

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.dec.IsZero() }

// IsPositive reports whether the amount is greater than zero.
func (a Amount) IsPositive() bool { return a.dec.IsPositive() }

// IsNegative reports whether the amount is less than zero.
func (a Amount) IsNegative() bool { return a.dec.IsNegative() }

// Equal reports whether two amounts are numerically equal.
func (a Amount) Equal(b Amount) bool { return a.dec.Equal(b.dec) }

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool { return a.dec.LessThan(b.dec) }

// GreaterThan reports whether a > b.
func (a Amount) GreaterThan(b Amount) bool { return a.dec.GreaterThan(b.dec) }

// Cmp compares a and b and returns -1, 0 or 1.
func (a Amount) Cmp(b Amount) int { return a.dec.Cmp(b.dec) }

// Formatting

// String returns the amount with trailing zeros trimmed ("40" for 40.00000000).
func (a Amount) String() string { return a.dec.String() }

// StringFixed returns the amount with exactly Scale fractional digits.
// This is the canonical wire and storage representation.
func (a Amount) StringFixed() string { return a.dec.StringFixed(Scale) }

// Decimal returns the underlying decimal value.
func (a Amount) Decimal() decimal.Decimal { return a.dec }

// MarshalJSON implements json.Marshaler. Amounts travel as decimal strings.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.StringFixed())
}

// UnmarshalJSON implements json.Unmarshaler. Accepts both a quoted decimal
// string and a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}

	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}

	*a = parsed
	return nil
}

// Value implements driver.Valuer for database storage.
func (a Amount) Value() (driver.Value, error) {
	return a.StringFixed(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseAmount(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		return a.Scan(string(v))
	case int64:
		*a = AmountFromInt(v)
		return nil
	case nil:
		*a = Amount{}
		return nil
	default:
		return fmt.Errorf("types: cannot scan %T into Amount", src)
	}
}
