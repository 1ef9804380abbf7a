package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/money"
	"github.com/dukerupert/sharepool/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance returns an account's spendable balance.
func (s *Service) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	cents, err := store.NewAccountStore(s.db).BalanceCents(ctx, accountID)
	if errors.Is(err, store.ErrAccountNotFound) {
		return decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, classify(err)
	}
	return money.FromCents(cents), nil
}

// AdjustBalance applies an admin-initiated change without commission. A
// positive amount is journaled as a topup; a negative one as a refund with a
// negative amount. The change and its entry commit together.
func (s *Service) AdjustBalance(ctx context.Context, accountID int64, amount decimal.Decimal, reason string, actingAdminID int64) (*model.LedgerEntry, error) {
	if amount.IsZero() || !amount.Equal(money.Round(amount)) {
		return nil, ErrInvalidAmount
	}

	category := model.CategoryTopup
	if amount.IsNegative() {
		category = model.CategoryRefund
	}

	var entry *model.LedgerEntry
	var balance decimal.Decimal
	err := store.WithTx(ctx, s.db, func(tx *store.Tx) error {
		delta, err := money.ToCents(amount)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		cents, err := tx.Accounts.Adjust(ctx, accountID, delta)
		switch {
		case errors.Is(err, store.ErrAccountNotFound):
			return ErrAccountNotFound
		case errors.Is(err, store.ErrBalanceGuard):
			available, err := tx.Accounts.BalanceCents(ctx, accountID)
			if err != nil {
				return err
			}
			return &InsufficientFundsError{Required: amount.Neg(), Available: money.FromCents(available)}
		case err != nil:
			return err
		}
		balance = money.FromCents(cents)

		entry, err = tx.Journal.Append(ctx, model.LedgerEntry{
			AccountID:       accountID,
			Amount:          amount,
			Category:        category,
			Status:          model.EntryCompleted,
			Note:            strings.TrimSpace(reason),
			Reference:       uuid.NewString(),
			ActingAccountID: &actingAdminID,
			CreatedAt:       s.now(),
		})
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	s.logger.Info("balance adjusted", "account", accountID, "amount", money.Format(amount), "admin", actingAdminID, "entry", entry.ID)
	s.observer.Observe(Event{Kind: EventAdjustment, AccountID: accountID, Entry: entry})
	s.observer.Observe(Event{Kind: EventBalanceChanged, AccountID: accountID, Balance: balance})
	return entry, nil
}

// cardReferencePrefix marks topups paid through the card processor. The
// requester cannot cancel them because the processor may still collect the
// payment.
const cardReferencePrefix = "card_"

func isCardTopup(e *model.LedgerEntry) bool {
	return strings.HasPrefix(e.Reference, cardReferencePrefix)
}

// RequestTopup records a pending topup. No money moves until it is approved
// or paid.
func (s *Service) RequestTopup(ctx context.Context, accountID int64, amount decimal.Decimal, note string) (*model.LedgerEntry, error) {
	return s.requestTopup(ctx, accountID, amount, note, uuid.NewString())
}

// RequestCardTopup records a pending topup that the card processor will
// complete through CompleteExternalTopup.
func (s *Service) RequestCardTopup(ctx context.Context, accountID int64, amount decimal.Decimal, note string) (*model.LedgerEntry, error) {
	return s.requestTopup(ctx, accountID, amount, note, cardReferencePrefix+uuid.NewString())
}

func (s *Service) requestTopup(ctx context.Context, accountID int64, amount decimal.Decimal, note, reference string) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := store.WithTx(ctx, s.db, func(tx *store.Tx) error {
		policy := LoadPolicy(ctx, tx.Settings, s.logger)
		if !amount.Equal(money.Round(amount)) || amount.LessThan(policy.TopupMin) || amount.GreaterThan(policy.TopupMax) {
			return fmt.Errorf("%w: topup must be between %s and %s", ErrInvalidAmount,
				money.Format(policy.TopupMin), money.Format(policy.TopupMax))
		}

		account, err := tx.Accounts.GetByID(ctx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return ErrAccountNotFound
		}

		entry, err = tx.Journal.Append(ctx, model.LedgerEntry{
			AccountID: accountID,
			Amount:    amount,
			Category:  model.CategoryTopup,
			Status:    model.EntryPending,
			Note:      strings.TrimSpace(note),
			Reference: reference,
			CreatedAt: s.now(),
		})
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	s.observer.Observe(Event{Kind: EventTopup, AccountID: accountID, Entry: entry})
	return entry, nil
}

// ApproveTopup credits a pending topup and marks it completed.
func (s *Service) ApproveTopup(ctx context.Context, entryID, adminID int64) (*model.LedgerEntry, error) {
	return s.completeTopup(ctx, entryID, &adminID, "")
}

// CompleteExternalTopup credits a topup paid through the card processor.
// Completing an already completed entry returns it unchanged, so webhook
// retries are harmless. A payment that arrives after the entry was closed
// is journaled as a new completed topup carrying externalRef.
func (s *Service) CompleteExternalTopup(ctx context.Context, entryID int64, externalRef string) (*model.LedgerEntry, error) {
	return s.completeTopup(ctx, entryID, nil, externalRef)
}

func (s *Service) completeTopup(ctx context.Context, entryID int64, actingID *int64, externalRef string) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	var balance decimal.Decimal
	replay := false

	err := store.WithTx(ctx, s.db, func(tx *store.Tx) error {
		current, err := tx.Journal.GetByID(ctx, entryID)
		if err != nil {
			return err
		}
		if current == nil || current.Category != model.CategoryTopup {
			return ErrEntryNotFound
		}
		external := actingID == nil
		if current.Status == model.EntryCompleted && external {
			entry, replay = current, true
			return nil
		}
		if current.Status != model.EntryPending && !(external && externalRef != "") {
			return ErrTopupNotPending
		}

		if current.Status != model.EntryPending {
			prior, err := tx.Journal.GetByReference(ctx, model.CategoryTopup, externalRef)
			if err != nil {
				return err
			}
			if prior != nil {
				entry, replay = prior, true
				return nil
			}
		}

		delta, err := money.ToCents(current.Amount)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		cents, err := tx.Accounts.Adjust(ctx, current.AccountID, delta)
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		balance = money.FromCents(cents)

		if current.Status == model.EntryPending {
			entry, err = tx.Journal.Resolve(ctx, entryID, model.EntryCompleted, actingID, "", externalRef)
			return err
		}

		s.logger.Warn("payment received for closed topup", "entry", current.ID, "status", current.Status, "reference", externalRef)
		entry, err = tx.Journal.Append(ctx, model.LedgerEntry{
			AccountID: current.AccountID,
			Amount:    current.Amount,
			Category:  model.CategoryTopup,
			Status:    model.EntryCompleted,
			Note:      fmt.Sprintf("late payment for topup #%d", current.ID),
			Reference: externalRef,
			CreatedAt: s.now(),
		})
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	if replay {
		return entry, nil
	}

	s.logger.Info("topup completed", "entry", entry.ID, "account", entry.AccountID, "amount", money.Format(entry.Amount))
	s.observer.Observe(Event{Kind: EventTopup, AccountID: entry.AccountID, Entry: entry})
	s.observer.Observe(Event{Kind: EventBalanceChanged, AccountID: entry.AccountID, Balance: balance})
	return entry, nil
}

// RejectTopup marks a pending topup failed.
func (s *Service) RejectTopup(ctx context.Context, entryID, adminID int64, reason string) (*model.LedgerEntry, error) {
	return s.closeTopup(ctx, entryID, model.EntryFailed, &adminID, 0, reason)
}

// CancelTopup lets the requesting account withdraw its own pending topup.
// Card topups are refused with ErrTopupNotCancellable.
func (s *Service) CancelTopup(ctx context.Context, entryID, accountID int64) (*model.LedgerEntry, error) {
	return s.closeTopup(ctx, entryID, model.EntryCancelled, nil, accountID, "cancelled by requester")
}

// AbandonCardTopup fails a card topup whose checkout could not be started.
// If the processor collects the payment anyway, CompleteExternalTopup still
// credits it.
func (s *Service) AbandonCardTopup(ctx context.Context, entryID, accountID int64) (*model.LedgerEntry, error) {
	return s.closeTopup(ctx, entryID, model.EntryFailed, nil, accountID, "checkout session could not be created")
}

func (s *Service) closeTopup(ctx context.Context, entryID int64, status model.EntryStatus, actingID *int64, ownerID int64, note string) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := store.WithTx(ctx, s.db, func(tx *store.Tx) error {
		current, err := tx.Journal.GetByID(ctx, entryID)
		if err != nil {
			return err
		}
		if current == nil || current.Category != model.CategoryTopup {
			return ErrEntryNotFound
		}
		if ownerID != 0 && current.AccountID != ownerID {
			return ErrEntryNotFound
		}
		if current.Status != model.EntryPending {
			return ErrTopupNotPending
		}
		if status == model.EntryCancelled && isCardTopup(current) {
			return ErrTopupNotCancellable
		}

		entry, err = tx.Journal.Resolve(ctx, entryID, status, actingID, strings.TrimSpace(note), "")
		return err
	})
	if errors.Is(err, store.ErrEntryNotPending) {
		return nil, ErrTopupNotPending
	}
	if err != nil {
		return nil, classify(err)
	}

	s.observer.Observe(Event{Kind: EventTopup, AccountID: entry.AccountID, Entry: entry})
	return entry, nil
}

// PendingTopups lists topups awaiting an admin decision.
func (s *Service) PendingTopups(ctx context.Context) ([]model.LedgerEntry, error) {
	entries, err := store.NewJournalStore(s.db).ListPending(ctx, model.CategoryTopup)
	if err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

// Reconciliation compares an account's live balance with its journal.
type Reconciliation struct {
	AccountID    int64           `json:"account_id"`
	Balance      decimal.Decimal `json:"balance"`
	JournalTotal decimal.Decimal `json:"journal_total"`
	Difference   decimal.Decimal `json:"difference"`
	Consistent   bool            `json:"consistent"`
}

// Reconcile sums the completed journal entries of an account and compares
// the total with the stored balance.
func (s *Service) Reconcile(ctx context.Context, accountID int64) (*Reconciliation, error) {
	var balanceCents, journalCents int64
	err := store.WithTx(ctx, s.db, func(tx *store.Tx) error {
		var err error
		balanceCents, err = tx.Accounts.BalanceCents(ctx, accountID)
		if errors.Is(err, store.ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		journalCents, err = tx.Journal.SumCompletedCents(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	r := &Reconciliation{
		AccountID:    accountID,
		Balance:      money.FromCents(balanceCents),
		JournalTotal: money.FromCents(journalCents),
		Difference:   money.FromCents(balanceCents - journalCents),
		Consistent:   balanceCents == journalCents,
	}
	if !r.Consistent {
		s.logger.Warn("balance does not reconcile with journal",
			"account", accountID, "balance", money.Format(r.Balance), "journal", money.Format(r.JournalTotal))
	}
	return r, nil
}
