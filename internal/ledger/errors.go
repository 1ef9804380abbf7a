package ledger

import (
	"errors"
	"fmt"

	"github.com/dukerupert/sharepool/internal/money"
	"github.com/shopspring/decimal"
)

// Validation errors. They are returned before any money moves.
var (
	ErrBelowMinimumDuration  = errors.New("ledger: requested hours below minimum")
	ErrAboveMaximumDuration  = errors.New("ledger: requested hours above maximum")
	ErrListingNotFound       = errors.New("ledger: listing not found")
	ErrListingUnavailable    = errors.New("ledger: listing is not available for purchase")
	ErrSelfPurchaseForbidden = errors.New("ledger: cannot purchase your own listing")
	ErrInsufficientFunds     = errors.New("ledger: insufficient funds")
	ErrAccountNotFound       = errors.New("ledger: account not found")
	ErrInvalidAmount         = errors.New("ledger: invalid amount")
	ErrInvalidListing        = errors.New("ledger: invalid listing")
	ErrIdempotencyConflict   = errors.New("ledger: idempotency key already used for a different purchase")
	ErrEntryNotFound         = errors.New("ledger: ledger entry not found")
	ErrTopupNotPending       = errors.New("ledger: topup is not pending")
	ErrTopupNotCancellable   = errors.New("ledger: card topups cannot be cancelled")
)

// ErrAccessDenied is returned when a buyer holds no live grant for a listing.
var ErrAccessDenied = errors.New("ledger: access denied")

// ErrNegativeBalance means a balance guard rejected a leg that preconditions
// should have allowed. The settlement is rolled back.
var ErrNegativeBalance = errors.New("ledger: negative balance attempt")

// ErrSettlementUnavailable wraps infrastructure failures. Nothing was
// committed, so the caller may retry.
var ErrSettlementUnavailable = errors.New("ledger: settlement unavailable")

// InsufficientFundsError carries the amounts needed to render an actionable message.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("ledger: insufficient funds: required %s, available %s",
		money.Format(e.Required), money.Format(e.Available))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// IsRetryable reports whether err came from infrastructure rather than the request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSettlementUnavailable)
}

var domainErrors = []error{
	ErrBelowMinimumDuration,
	ErrAboveMaximumDuration,
	ErrListingNotFound,
	ErrListingUnavailable,
	ErrSelfPurchaseForbidden,
	ErrInsufficientFunds,
	ErrAccountNotFound,
	ErrInvalidAmount,
	ErrInvalidListing,
	ErrIdempotencyConflict,
	ErrEntryNotFound,
	ErrTopupNotPending,
	ErrTopupNotCancellable,
	ErrAccessDenied,
	ErrNegativeBalance,
	ErrSettlementUnavailable,
}

// classify passes domain errors through and marks everything else as
// an infrastructure failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrSettlementUnavailable, err)
}
