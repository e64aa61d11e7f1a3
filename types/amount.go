package types

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Amount is a value in the smallest settlement unit (satoshis).
// All ledger arithmetic is integer-only.
type Amount int64

// Decimals is the number of fractional digits of the major unit (BTC).
const Decimals = 8

// MaxAmount is the largest representable amount.
const MaxAmount = Amount(math.MaxInt64)

// ErrAmountOverflow is returned when arithmetic or parsing leaves the
// representable range.
var ErrAmountOverflow = errors.New("types: amount overflow")

var maxDecimal = decimal.NewFromInt(math.MaxInt64)

// Sats creates an Amount from a satoshi count.
func Sats(n int64) Amount { return Amount(n) }

// Int64 returns the raw smallest-unit value.
func (a Amount) Int64() int64 { return int64(a) }

// IsZero returns true if the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// IsPositive returns true if the amount is greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// IsNegative returns true if the amount is less than zero.
func (a Amount) IsNegative() bool { return a < 0 }

// CheckedAdd adds other, reporting ErrAmountOverflow instead of wrapping.
func (a Amount) CheckedAdd(other Amount) (Amount, error) {
	if (other > 0 && a > MaxAmount-other) || (other < 0 && a < math.MinInt64-other) {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, a, other)
	}
	return a + other, nil
}

// Min returns the smaller of two amounts.
func (a Amount) Min(other Amount) Amount {
	if a < other {
		return a
	}
	return other
}

// Decimal returns the amount in major units as a decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Decimals)
}

// FormatMajor returns the major unit string, e.g. "0.50000000" for Sats(50000000).
func (a Amount) FormatMajor() string {
	return a.Decimal().StringFixed(Decimals)
}

// String returns a human-readable satoshi rendering, e.g. "1500 sats".
func (a Amount) String() string {
	return fmt.Sprintf("%d sats", int64(a))
}

// ParseMajor parses a major-unit decimal string ("0.5") into an Amount.
// Values with more than Decimals fractional digits are rejected rather than
// rounded.
func ParseMajor(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("types: parse amount %q: %w", s, err)
	}

	shifted := d.Shift(Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("types: parse amount %q: more than %d decimal places", s, Decimals)
	}
	if shifted.Abs().GreaterThan(maxDecimal) {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, s)
	}

	return Amount(shifted.IntPart()), nil
}

// Sum adds amounts, failing on overflow.
func Sum(values ...Amount) (Amount, error) {
	var total Amount
	for _, v := range values {
		next, err := total.CheckedAdd(v)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}
