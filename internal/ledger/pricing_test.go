package ledger

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSplit(t *testing.T) {
	tests := []struct {
		gross, pct           string
		commission, earnings string
	}{
		{"48.00", "10", "4.80", "43.20"},
		{"96.00", "10", "9.60", "86.40"},
		{"10.00", "0", "0.00", "10.00"},
		{"10.00", "100", "10.00", "0.00"},
		{"0.05", "10", "0.01", "0.04"},
		{"0.03", "15", "0.00", "0.03"},
		{"33.33", "12.5", "4.17", "29.16"},
		{"10.00", "-5", "0.00", "10.00"},
		{"10.00", "150", "10.00", "0.00"},
	}

	for _, tt := range tests {
		got := Split(d(tt.gross), d(tt.pct))
		if !got.Commission.Equal(d(tt.commission)) {
			t.Errorf("Split(%s, %s) commission = %s, want %s", tt.gross, tt.pct, got.Commission, tt.commission)
		}
		if !got.OwnerEarning.Equal(d(tt.earnings)) {
			t.Errorf("Split(%s, %s) owner earning = %s, want %s", tt.gross, tt.pct, got.OwnerEarning, tt.earnings)
		}
	}
}

func TestSplitBounds(t *testing.T) {
	for cents := int64(0); cents <= 2000; cents += 7 {
		gross := decimal.New(cents, -2)
		for pct := int64(0); pct <= 100; pct += 3 {
			s := Split(gross, decimal.NewFromInt(pct))
			if s.Commission.IsNegative() || s.OwnerEarning.IsNegative() {
				t.Fatalf("Split(%s, %d) produced a negative share: %+v", gross, pct, s)
			}
			if s.Commission.GreaterThan(gross) {
				t.Fatalf("Split(%s, %d) commission %s exceeds gross", gross, pct, s.Commission)
			}
			if diff := gross.Sub(s.Commission.Add(s.OwnerEarning)).Abs(); diff.GreaterThan(d("0.01")) {
				t.Fatalf("Split(%s, %d) loses %s", gross, pct, diff)
			}
		}
	}
}

func TestBilledDays(t *testing.T) {
	tests := []struct {
		hours, want int
	}{
		{0, 0},
		{1, 1},
		{24, 1},
		{25, 2},
		{48, 2},
		{49, 3},
		{168, 7},
		{MaxPurchaseHours, 366},
		{math.MaxInt, math.MaxInt/24 + 1},
	}
	for _, tt := range tests {
		if got := BilledDays(tt.hours); got != tt.want {
			t.Errorf("BilledDays(%d) = %d, want %d", tt.hours, got, tt.want)
		}
	}
}

func TestAccessPrice(t *testing.T) {
	tests := []struct {
		pph   string
		hours int
		price string
		days  int
	}{
		{"2.00", 24, "48.00", 1},
		{"2.00", 25, "96.00", 2},
		{"0.125", 24, "3.00", 1},
		{"0.333", 24, "7.99", 1},
		{"1.50", 72, "108.00", 3},
	}
	for _, tt := range tests {
		price, days := AccessPrice(d(tt.pph), tt.hours)
		if !price.Equal(d(tt.price)) {
			t.Errorf("AccessPrice(%s, %d) price = %s, want %s", tt.pph, tt.hours, price, tt.price)
		}
		if days != tt.days {
			t.Errorf("AccessPrice(%s, %d) days = %d, want %d", tt.pph, tt.hours, days, tt.days)
		}
	}
}

func TestAccessPriceLargeHoursStayPositive(t *testing.T) {
	for _, hours := range []int{MaxPurchaseHours, MaxPurchaseHours + 1, math.MaxInt} {
		price, days := AccessPrice(d("2.00"), hours)
		if days <= 0 {
			t.Errorf("AccessPrice(2.00, %d) days = %d, want positive", hours, days)
		}
		if !price.IsPositive() {
			t.Errorf("AccessPrice(2.00, %d) price = %s, want positive", hours, price)
		}
	}
}

func TestAccessEndTimeUsesBilledDays(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if got, want := AccessEndTime(start, 24), start.Add(24*time.Hour); !got.Equal(want) {
		t.Errorf("end for 24h = %v, want %v", got, want)
	}
	if got, want := AccessEndTime(start, 25), start.Add(48*time.Hour); !got.Equal(want) {
		t.Errorf("end for 25h = %v, want %v", got, want)
	}
}
