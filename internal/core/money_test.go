package core

import (
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out Money
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{"1.004", 100, true},
		{" 2.50 ", 250, true},
		{"0", 0, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"1e3", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
		{"99999999999999999999", 0, false},
		{"10000000000", 1_000_000_000_000, true},
		{"10000000000.01", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("%q expected ErrInvalidAmount, got %v", tc.in, err)
			}
		}
	}
}

func TestMoneyFormatting(t *testing.T) {
	cases := []struct {
		in     Money
		plain  string
		signed string
	}{
		{0, "0.00", "0.00"},
		{1, "0.01", "+0.01"},
		{40300, "403.00", "+403.00"},
		{-1234, "-12.34", "-12.34"},
	}
	for _, tc := range cases {
		if got := tc.in.String(); got != tc.plain {
			t.Errorf("Money(%d).String() = %q, want %q", tc.in, got, tc.plain)
		}
		if got := tc.in.Signed(); got != tc.signed {
			t.Errorf("Money(%d).Signed() = %q, want %q", tc.in, got, tc.signed)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := Money(1).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	for _, m := range []Money{0, -5} {
		if err := m.Validate(); !errors.Is(err, ErrNonPositiveAmount) {
			t.Fatalf("Money(%d): expected ErrNonPositiveAmount, got %v", m, err)
		}
	}
	if err := MaxAmount.Validate(); err != nil {
		t.Fatalf("MaxAmount: expected ok, got %v", err)
	}
	for _, m := range []Money{MaxAmount + 1, 1 << 62} {
		err := m.Validate()
		if !errors.Is(err, ErrAmountTooLarge) || !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("Money(%d): expected ErrAmountTooLarge, got %v", m, err)
		}
	}
}
