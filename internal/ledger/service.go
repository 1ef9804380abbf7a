// Package ledger implements balance settlement for access purchases: the
// commission split, the three-way transfer and the transaction journal.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/money"
	"github.com/dukerupert/sharepool/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CredentialVault seals listing credentials at rest and opens them for
// buyers with a live grant.
type CredentialVault interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type Service struct {
	db       *sql.DB
	vault    CredentialVault
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(db *sql.DB, vault CredentialVault, observer Observer, logger *slog.Logger) *Service {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Service{
		db:       db,
		vault:    vault,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

// PurchaseRequest is validated once at the boundary before it reaches the service.
type PurchaseRequest struct {
	BuyerID        int64
	ListingID      int64
	Hours          int
	IdempotencyKey string
}

// Purchase is the committed result of a settlement.
type Purchase struct {
	Grant    *model.Grant        `json:"grant"`
	Entries  []model.LedgerEntry `json:"entries"`
	Replayed bool                `json:"replayed"`
}

// PurchaseAccess settles a purchase of timed access. Preconditions are checked
// in order and the first failure wins. The transfer, grant, journal entries
// and usage counter are written in one transaction. A request carrying an
// idempotency key that was already settled returns the stored result.
func (s *Service) PurchaseAccess(ctx context.Context, req PurchaseRequest) (*Purchase, error) {
	started := time.Now()
	var result *Purchase
	var balances map[int64]decimal.Decimal

	err := store.WithTx(ctx, s.db, func(tx *store.Tx) error {
		if req.IdempotencyKey != "" {
			prior, err := tx.Grants.GetByIdempotencyKey(ctx, req.BuyerID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if prior != nil {
				if prior.ListingID != req.ListingID || prior.Hours != req.Hours {
					return ErrIdempotencyConflict
				}
				entries, err := tx.Journal.ListByGrant(ctx, prior.ID)
				if err != nil {
					return err
				}
				result = &Purchase{Grant: prior, Entries: entries, Replayed: true}
				return nil
			}
		}

		policy := LoadPolicy(ctx, tx.Settings, s.logger)

		if req.Hours < policy.MinPurchaseHours {
			return fmt.Errorf("%w: minimum is %d hours", ErrBelowMinimumDuration, policy.MinPurchaseHours)
		}
		if req.Hours > MaxPurchaseHours {
			return fmt.Errorf("%w: maximum is %d hours", ErrAboveMaximumDuration, MaxPurchaseHours)
		}

		listing, err := tx.Listings.GetByID(ctx, req.ListingID)
		if err != nil {
			return err
		}
		if listing == nil {
			return ErrListingNotFound
		}
		if !listing.Purchasable() {
			return ErrListingUnavailable
		}
		if listing.OwnerID == req.BuyerID {
			return ErrSelfPurchaseForbidden
		}

		gross, days := AccessPrice(listing.PricePerHour, req.Hours)
		if !gross.IsPositive() {
			return fmt.Errorf("%w: price %s", ErrInvalidAmount, money.Format(gross))
		}

		availableCents, err := tx.Accounts.BalanceCents(ctx, req.BuyerID)
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		if available := money.FromCents(availableCents); available.LessThan(gross) {
			return &InsufficientFundsError{Required: gross, Available: available}
		}

		platform, err := tx.Accounts.GetByID(ctx, model.PlatformAccountID)
		if err != nil {
			return err
		}
		if platform == nil || platform.Role != model.RoleAdmin {
			return fmt.Errorf("%w: platform account missing", ErrSettlementUnavailable)
		}

		split := Split(gross, policy.CommissionPercentage)
		transfer := Transfer{Legs: []Leg{
			{AccountID: req.BuyerID, Delta: gross.Neg()},
			{AccountID: listing.OwnerID, Delta: split.OwnerEarning},
			{AccountID: platform.ID, Delta: split.Commission},
		}}
		if net := transfer.Net(); !net.IsZero() {
			return fmt.Errorf("unbalanced transfer: net %s", net)
		}
		balances, err = transfer.apply(ctx, tx.Accounts)
		if err != nil {
			return err
		}

		start := s.now().UTC().Truncate(time.Second)
		grant, err := tx.Grants.Create(ctx, model.Grant{
			Reference:            uuid.NewString(),
			ListingID:            listing.ID,
			BuyerID:              req.BuyerID,
			Hours:                req.Hours,
			BilledDays:           days,
			Price:                gross,
			Commission:           split.Commission,
			CommissionPercentage: policy.CommissionPercentage,
			StartAt:              start,
			EndAt:                AccessEndTime(start, req.Hours),
			IdempotencyKey:       req.IdempotencyKey,
		})
		if err != nil {
			return err
		}

		pending := []model.LedgerEntry{
			{
				AccountID: req.BuyerID,
				Amount:    gross.Neg(),
				Category:  model.CategoryPurchase,
				Note:      fmt.Sprintf("access to %q for %d day(s)", listing.Title, days),
			},
			{
				AccountID: listing.OwnerID,
				Amount:    split.OwnerEarning,
				Category:  model.CategoryEarning,
				Note:      fmt.Sprintf("sale of %q", listing.Title),
			},
			{
				AccountID:            platform.ID,
				Amount:               split.Commission,
				Category:             model.CategoryCommission,
				CommissionPercentage: decimal.NewNullDecimal(policy.CommissionPercentage),
				CommissionAmount:     decimal.NewNullDecimal(split.Commission),
				Note:                 fmt.Sprintf("commission on %q", listing.Title),
			},
		}

		entries := make([]model.LedgerEntry, 0, len(pending))
		for _, e := range pending {
			e.Status = model.EntryCompleted
			e.GrantID = &grant.ID
			e.Reference = grant.Reference
			e.CreatedAt = start
			stored, err := tx.Journal.Append(ctx, e)
			if err != nil {
				return err
			}
			entries = append(entries, *stored)
		}

		if err := tx.Listings.IncrementUsage(ctx, listing.ID); err != nil {
			return err
		}

		result = &Purchase{Grant: grant, Entries: entries}
		return nil
	})
	if err != nil {
		err = classify(err)
		s.logRejection(ctx, req, err)
		s.observer.Observe(Event{Kind: EventSettlementRejected, AccountID: req.BuyerID, Reason: RejectionReason(err)})
		return nil, err
	}

	if result.Replayed {
		s.logger.Info("purchase replayed", "grant", result.Grant.ID, "buyer", req.BuyerID, "idempotency_key", req.IdempotencyKey)
		return result, nil
	}

	s.logger.Info("settlement committed",
		"grant", result.Grant.ID,
		"buyer", req.BuyerID,
		"listing", req.ListingID,
		"gross", money.Format(result.Grant.Price),
		"commission", money.Format(result.Grant.Commission),
	)
	s.observer.Observe(Event{
		Kind:      EventSettlement,
		AccountID: req.BuyerID,
		Grant:     result.Grant,
		Duration:  time.Since(started),
	})
	s.notifyBalances(balances)
	return result, nil
}

func (s *Service) notifyBalances(balances map[int64]decimal.Decimal) {
	for id, bal := range balances {
		s.observer.Observe(Event{Kind: EventBalanceChanged, AccountID: id, Balance: bal})
	}
}

func (s *Service) logRejection(ctx context.Context, req PurchaseRequest, err error) {
	attrs := []any{"buyer", req.BuyerID, "listing", req.ListingID, "hours", req.Hours, "error", err}
	switch {
	case errors.Is(err, ErrNegativeBalance):
		s.logger.WarnContext(ctx, "settlement aborted by balance guard", attrs...)
	case IsRetryable(err):
		s.logger.ErrorContext(ctx, "settlement failed", attrs...)
	default:
		s.logger.InfoContext(ctx, "settlement rejected", attrs...)
	}
}

// RejectionReason maps a settlement error to a short stable label.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrBelowMinimumDuration):
		return "below_minimum_duration"
	case errors.Is(err, ErrAboveMaximumDuration):
		return "above_maximum_duration"
	case errors.Is(err, ErrListingNotFound):
		return "listing_not_found"
	case errors.Is(err, ErrListingUnavailable):
		return "listing_unavailable"
	case errors.Is(err, ErrSelfPurchaseForbidden):
		return "self_purchase"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, ErrNegativeBalance):
		return "negative_balance"
	default:
		return "unavailable"
	}
}
