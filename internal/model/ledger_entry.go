package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryCategory string

const (
	CategoryTopup      EntryCategory = "topup"
	CategoryPurchase   EntryCategory = "purchase"
	CategoryEarning    EntryCategory = "earning"
	CategoryRefund     EntryCategory = "refund"
	CategoryCommission EntryCategory = "commission"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
	EntryCancelled EntryStatus = "cancelled"
)

// LedgerEntry is one balance-affecting event for one account. Entries are
// immutable once they leave the pending state.
type LedgerEntry struct {
	ID                   int64               `json:"id"`
	AccountID            int64               `json:"account_id"`
	Amount               decimal.Decimal     `json:"amount"`
	Category             EntryCategory       `json:"category"`
	Status               EntryStatus         `json:"status"`
	GrantID              *int64              `json:"grant_id,omitempty"`
	CommissionPercentage decimal.NullDecimal `json:"commission_percentage,omitempty"`
	CommissionAmount     decimal.NullDecimal `json:"commission_amount,omitempty"`
	Note                 string              `json:"note"`
	Reference            string              `json:"reference,omitempty"`
	ActingAccountID      *int64              `json:"acting_account_id,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}
