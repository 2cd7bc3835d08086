// Package core provides money parsing and handling utilities.
//
// All ledger arithmetic happens on int64 minor units. Decimal conversion only
// happens at the edges: parsing user input and formatting for display.
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of decimal places between the major and the
// minor unit (2 for cents).
const MinorUnitExponent = 2

// Money is an amount in minor units.
type Money int64

// MaxAmount caps a single transaction. Ledger sums stay inside int64 for
// millions of transactions at the cap.
const MaxAmount Money = 1_000_000_000_000

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrAmountTooLarge = fmt.Errorf("%w: above %s", ErrInvalidAmount, MaxAmount)
)

var maxMajor = MaxAmount.Decimal()

// ParseAmount converts a decimal string to minor units with half-up rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Signs are
// rejected. Zero parses successfully so callers can report it with the
// domain error they prefer.
//
// Examples:
//
//	ParseAmount("12.34")  -> 1234, nil
//	ParseAmount("12,34")  -> 1234, nil
//	ParseAmount("12.345") -> 1235, nil (half-up)
//	ParseAmount("12.344") -> 1234, nil
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	if strings.ContainsAny(s, "eE") {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if d.GreaterThan(maxMajor) {
		return 0, ErrAmountTooLarge
	}
	minor := d.Shift(MinorUnitExponent).Round(0)
	return Money(minor.IntPart()), nil
}

// Validate rejects zero and negative amounts and anything above MaxAmount.
func (m Money) Validate() error {
	if m <= 0 {
		return ErrNonPositiveAmount
	}
	if m > MaxAmount {
		return ErrAmountTooLarge
	}
	return nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -MinorUnitExponent)
}

// String formats the amount in major units with a fixed number of decimals.
func (m Money) String() string {
	return m.Decimal().StringFixed(MinorUnitExponent)
}

// Signed formats like String but prefixes positive amounts with "+", which is
// how balances are shown (positive owes).
func (m Money) Signed() string {
	if m > 0 {
		return "+" + m.String()
	}
	return m.String()
}
