// Package money converts between decimal amounts and the integer cents
// stored in the database.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept for amounts.
const Places = 2

var (
	ErrTooPrecise = errors.New("amount has more than two decimal places")
	ErrOutOfRange = errors.New("amount out of range")
)

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// FromCents returns the decimal value of a cents amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -Places)
}

// ToCents rounds d to two places (half away from zero) and returns it in
// cents. Amounts that do not fit in an int64 return ErrOutOfRange.
func ToCents(d decimal.Decimal) (int64, error) {
	c := Round(d).Shift(Places)
	if c.GreaterThan(maxCents) || c.LessThan(minCents) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d)
	}
	return c.IntPart(), nil
}

// Round rounds half away from zero to two places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse reads a user-supplied amount. It rejects values that cannot be
// represented exactly in cents.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.Equal(Round(d)) {
		return decimal.Zero, ErrTooPrecise
	}
	if _, err := ToCents(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Format renders d with exactly two fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
