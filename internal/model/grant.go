package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type GrantStatus string

const (
	GrantActive    GrantStatus = "active"
	GrantExpired   GrantStatus = "expired"
	GrantCancelled GrantStatus = "cancelled"
)

// Grant is one purchase of timed access to a listing.
type Grant struct {
	ID                   int64           `json:"id"`
	Reference            string          `json:"reference"`
	ListingID            int64           `json:"listing_id"`
	BuyerID              int64           `json:"buyer_id"`
	Hours                int             `json:"hours"`
	BilledDays           int             `json:"billed_days"`
	Price                decimal.Decimal `json:"price"`
	Commission           decimal.Decimal `json:"commission"`
	CommissionPercentage decimal.Decimal `json:"commission_percentage"`
	Status               GrantStatus     `json:"status"`
	StartAt              time.Time       `json:"start_at"`
	EndAt                time.Time       `json:"end_at"`
	IdempotencyKey       string          `json:"-"`
	CreatedAt            time.Time       `json:"created_at"`
}
