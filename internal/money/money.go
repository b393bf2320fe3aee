// Package money holds the decimal helpers shared by the valuation and
// reconciliation calculators. Amounts are never carried as float64.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept on every monetary output.
const Places = 2

// MaxExponent bounds the power of ten a parsed number may carry. Rounding
// "1e5000000" to cents would expand it to millions of digits.
const MaxExponent = 64

var hundred = decimal.NewFromInt(100)

// ErrOutOfRange is returned for numbers whose exponent exceeds MaxExponent.
var ErrOutOfRange = errors.New("number out of range")

// Parse reads a user-typed number. Blank, unparsable or out-of-range input
// yields zero; thousands separators and a dangling decimal point ("12.") are
// tolerated so partially typed values still compute.
func Parse(raw string) decimal.Decimal {
	s := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if s == "-" || s == "+" {
		return decimal.Zero
	}
	d, err := ParseStrict(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseStrict parses raw after trimming spaces and thousands separators.
// Blank input is zero. Unlike decimal.NewFromString it rejects numbers
// outside Bounded.
func ParseStrict(raw string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !Bounded(d) {
		return decimal.Zero, ErrOutOfRange
	}
	return d, nil
}

// Bounded reports whether d's exponent lies within MaxExponent either way.
func Bounded(d decimal.Decimal) bool {
	e := d.Exponent()
	return e >= -MaxExponent && e <= MaxExponent
}

// IsBlank reports whether a form value carries no number at all.
func IsBlank(raw string) bool {
	return strings.TrimSpace(raw) == ""
}

// Round2 rounds half away from zero to two places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Format2 renders d with exactly two fractional digits.
func Format2(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// Percent returns pct percent of base.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// Ratio returns part/whole expressed as a percentage. ok is false when whole
// is not positive.
func Ratio(part, whole decimal.Decimal) (decimal.Decimal, bool) {
	if !whole.IsPositive() {
		return decimal.Zero, false
	}
	return part.Div(whole).Mul(hundred), true
}
