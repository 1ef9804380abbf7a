package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Verification string

const (
	VerificationPending  Verification = "pending"
	VerificationVerified Verification = "verified"
	VerificationRejected Verification = "rejected"
)

type Listing struct {
	ID           int64           `json:"id"`
	OwnerID      int64           `json:"owner_id"`
	Title        string          `json:"title"`
	ServiceName  string          `json:"service_name"`
	Description  string          `json:"description"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
	Verification Verification    `json:"verification"`
	Active       bool            `json:"active"`
	UsageCount   int64           `json:"usage_count"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Purchasable reports whether buyers may settle against the listing.
func (l *Listing) Purchasable() bool {
	return l.Verification == VerificationVerified && l.Active
}

// SealedCredentials holds the vault-encrypted login of a shared account.
type SealedCredentials struct {
	Username string
	Password string
}
