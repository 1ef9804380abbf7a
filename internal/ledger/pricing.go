package ledger

import (
	"time"

	"github.com/dukerupert/sharepool/internal/money"
	"github.com/shopspring/decimal"
)

const hoursPerDay = 24

// MaxPurchaseHours bounds a single purchase to one year of access.
const MaxPurchaseHours = 366 * hoursPerDay

// SplitResult is the division of a gross payment between platform and owner.
type SplitResult struct {
	Commission   decimal.Decimal
	OwnerEarning decimal.Decimal
}

// Split computes commission = round(gross*pct/100) and
// ownerEarning = round(gross-commission), each to two places. The percentage
// is clamped to [0, 100].
func Split(gross, pct decimal.Decimal) SplitResult {
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	commission := money.Round(gross.Mul(pct).Div(hundred))
	return SplitResult{
		Commission:   commission,
		OwnerEarning: money.Round(gross.Sub(commission)),
	}
}

// BilledDays rounds requested hours up to whole days.
func BilledDays(hours int) int {
	if hours <= 0 {
		return 0
	}
	days := hours / hoursPerDay
	if hours%hoursPerDay != 0 {
		days++
	}
	return days
}

// AccessPrice bills whole days: price = round(pricePerHour * 24 * days).
// A request for 25 hours bills two days.
func AccessPrice(pricePerHour decimal.Decimal, hours int) (decimal.Decimal, int) {
	days := BilledDays(hours)
	billedHours := decimal.NewFromInt(int64(days)).Mul(decimal.NewFromInt(hoursPerDay))
	return money.Round(pricePerHour.Mul(billedHours)), days
}

// AccessEndTime grants the full billed days, so what is paid for is what is
// granted. Callers cap hours at MaxPurchaseHours.
func AccessEndTime(start time.Time, hours int) time.Time {
	return start.Add(time.Duration(BilledDays(hours)) * hoursPerDay * time.Hour)
}
