package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// All marketplace amounts are EGP with two minor-unit digits (piastres).
// Amounts are decimal.Decimal end to end; float64 must never carry money.

const (
	Currency    = "EGP"
	MinorDigits = 2
)

var (
	one  = decimal.NewFromInt(1)
	half = decimal.New(5, -1) // 0.5
	pct  = decimal.NewFromInt(100)
)

var ErrInvalidAmount = errors.New("money: amount must be positive")

// RoundMinor rounds to the minor currency unit using round-half-up.
// Half-up is a policy choice: exact .005 halves always round toward the
// larger value, so 1.005 -> 1.01 and 1.004 -> 1.00.
func RoundMinor(d decimal.Decimal) decimal.Decimal {
	shifted := d.Shift(MinorDigits)
	floor := shifted.Floor()
	if shifted.Sub(floor).Cmp(half) >= 0 {
		floor = floor.Add(one)
	}
	return floor.Shift(-MinorDigits)
}

// Percent computes pct% of amount, rounded to the minor unit.
func Percent(amount, percent decimal.Decimal) decimal.Decimal {
	return RoundMinor(amount.Mul(percent).Div(pct))
}

// RequirePositive validates an amount used for a charge or transfer.
func RequirePositive(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, amount.String())
	}
	return nil
}

// Format renders an amount for human-readable summaries, e.g. "36.05 EGP".
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(MinorDigits) + " " + Currency
}
