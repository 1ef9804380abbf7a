package money

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCentsRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"48", 4800},
		{"4.80", 480},
		{"0.01", 1},
		{"0.005", 1},
		{"-0.005", -1},
		{"43.2", 4320},
	}
	for _, tt := range tests {
		got, err := ToCents(decimal.RequireFromString(tt.in))
		if err != nil {
			t.Errorf("ToCents(%s): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ToCents(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}

	if !FromCents(5200).Equal(decimal.NewFromInt(52)) {
		t.Errorf("FromCents(5200) = %s, want 52", FromCents(5200))
	}
}

func TestParse(t *testing.T) {
	d, err := Parse(" 12.50 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if Format(d) != "12.50" {
		t.Errorf("Format = %q, want %q", Format(d), "12.50")
	}

	if _, err := Parse("1.234"); err != ErrTooPrecise {
		t.Errorf("err = %v, want ErrTooPrecise", err)
	}
	if _, err := Parse("abc"); err == nil {
		t.Error("expected error for non-numeric amount")
	}
}

func TestToCentsOutOfRange(t *testing.T) {
	tests := []string{
		"92233720368547758.08",
		"-92233720368547758.09",
		"-18446744073709551552",
	}
	for _, in := range tests {
		if _, err := ToCents(decimal.RequireFromString(in)); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ToCents(%s) err = %v, want ErrOutOfRange", in, err)
		}
	}

	got, err := ToCents(decimal.RequireFromString("92233720368547758.07"))
	if err != nil || got != math.MaxInt64 {
		t.Errorf("ToCents(max) = %d, %v, want %d", got, err, int64(math.MaxInt64))
	}

	if _, err := Parse("1e30"); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Parse(1e30) err = %v, want ErrOutOfRange", err)
	}
}
