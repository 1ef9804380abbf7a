package ledger

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"
)

const (
	KeyCommissionPercentage = "commission_percentage"
	KeyMinPurchaseHours     = "min_purchase_hours"
	KeyTopupMinAmount       = "topup_min_amount"
	KeyTopupMaxAmount       = "topup_max_amount"
)

const (
	defaultCommissionPercentage = 10
	defaultMinPurchaseHours     = 24
	defaultTopupMin             = 5
	defaultTopupMax             = 1000
)

var hundred = decimal.NewFromInt(100)

// ConfigSource is a key/value lookup for platform settings.
type ConfigSource interface {
	Get(ctx context.Context, key string) (string, error)
}

// Policy is a snapshot of the platform settings read once per operation, so
// every leg of a settlement sees the same values.
type Policy struct {
	CommissionPercentage decimal.Decimal
	MinPurchaseHours     int
	TopupMin             decimal.Decimal
	TopupMax             decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		CommissionPercentage: decimal.NewFromInt(defaultCommissionPercentage),
		MinPurchaseHours:     defaultMinPurchaseHours,
		TopupMin:             decimal.NewFromInt(defaultTopupMin),
		TopupMax:             decimal.NewFromInt(defaultTopupMax),
	}
}

// LoadPolicy reads the settings from src. A missing, unreadable or
// out-of-range value falls back to its default and is logged; loading never fails.
func LoadPolicy(ctx context.Context, src ConfigSource, logger *slog.Logger) Policy {
	p := DefaultPolicy()

	if v, ok := lookup(ctx, src, KeyCommissionPercentage, logger); ok {
		pct, err := decimal.NewFromString(v)
		if err == nil && !pct.IsNegative() && pct.LessThanOrEqual(hundred) {
			p.CommissionPercentage = pct
		} else {
			logger.Warn("invalid commission percentage, using default", "value", v, "default", p.CommissionPercentage)
		}
	}

	if v, ok := lookup(ctx, src, KeyMinPurchaseHours, logger); ok {
		hours, err := strconv.Atoi(v)
		if err == nil && hours >= 1 {
			p.MinPurchaseHours = hours
		} else {
			logger.Warn("invalid minimum purchase hours, using default", "value", v, "default", p.MinPurchaseHours)
		}
	}

	if v, ok := lookup(ctx, src, KeyTopupMinAmount, logger); ok {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			p.TopupMin = d
		}
	}
	if v, ok := lookup(ctx, src, KeyTopupMaxAmount, logger); ok {
		if d, err := decimal.NewFromString(v); err == nil && d.GreaterThanOrEqual(p.TopupMin) {
			p.TopupMax = d
		}
	}

	return p
}

func lookup(ctx context.Context, src ConfigSource, key string, logger *slog.Logger) (string, bool) {
	v, err := src.Get(ctx, key)
	if err != nil {
		logger.Debug("setting unavailable, using default", "key", key, "error", err)
		return "", false
	}
	return v, true
}

// ValidateSetting reports whether value is acceptable for a ledger setting key.
func ValidateSetting(key, value string) bool {
	switch key {
	case KeyCommissionPercentage:
		pct, err := decimal.NewFromString(value)
		return err == nil && !pct.IsNegative() && pct.LessThanOrEqual(hundred)
	case KeyMinPurchaseHours:
		hours, err := strconv.Atoi(value)
		return err == nil && hours >= 1
	case KeyTopupMinAmount, KeyTopupMaxAmount:
		d, err := decimal.NewFromString(value)
		return err == nil && d.IsPositive()
	}
	return false
}
