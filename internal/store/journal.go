package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/money"
	"github.com/shopspring/decimal"
)

// JournalStore is the append-only transaction journal. Rows are written once;
// only pending rows may change status, and the schema rejects anything else.
type JournalStore struct {
	db DBTX
}

func NewJournalStore(db DBTX) *JournalStore {
	return &JournalStore{db: db}
}

func scanEntry(scanner interface{ Scan(...any) error }) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var amountCents int64
	var grantID, acting, commissionCents sql.NullInt64

	err := scanner.Scan(&e.ID, &e.AccountID, &amountCents, &e.Category, &e.Status, &grantID,
		&e.CommissionPercentage, &commissionCents, &e.Note, &e.Reference, &acting, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.Amount = money.FromCents(amountCents)
	e.GrantID = int64Ptr(grantID)
	e.ActingAccountID = int64Ptr(acting)
	if commissionCents.Valid {
		e.CommissionAmount = decimal.NewNullDecimal(money.FromCents(commissionCents.Int64))
	}
	return &e, nil
}

const entryCols = `id, account_id, amount_cents, category, status, grant_id, commission_percentage, commission_cents, note, reference, acting_account_id, created_at, updated_at`

// Append writes a new journal row from e and returns the stored entry.
func (s *JournalStore) Append(ctx context.Context, e model.LedgerEntry) (*model.LedgerEntry, error) {
	var pct sql.NullString
	var commissionCents sql.NullInt64
	if e.CommissionPercentage.Valid {
		pct = sql.NullString{String: e.CommissionPercentage.Decimal.String(), Valid: true}
	}
	if e.CommissionAmount.Valid {
		c, err := money.ToCents(e.CommissionAmount.Decimal)
		if err != nil {
			return nil, fmt.Errorf("commission amount: %w", err)
		}
		commissionCents = sql.NullInt64{Int64: c, Valid: true}
	}
	amountCents, err := money.ToCents(e.Amount)
	if err != nil {
		return nil, fmt.Errorf("entry amount: %w", err)
	}

	now := time.Now().UTC()
	if !e.CreatedAt.IsZero() {
		now = e.CreatedAt.UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (account_id, amount_cents, category, status, grant_id, commission_percentage,
		                             commission_cents, note, reference, acting_account_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AccountID, amountCents, e.Category, e.Status, nullInt64(e.GrantID), pct,
		commissionCents, e.Note, e.Reference, nullInt64(e.ActingAccountID), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *JournalStore) GetByID(ctx context.Context, id int64) (*model.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM ledger_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

func (s *JournalStore) list(ctx context.Context, query string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ListByAccount returns an account's entries, newest first.
func (s *JournalStore) ListByAccount(ctx context.Context, accountID int64, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx,
		`SELECT `+entryCols+` FROM ledger_entries WHERE account_id = ? ORDER BY id DESC LIMIT ?`,
		accountID, limit,
	)
}

func (s *JournalStore) ListByGrant(ctx context.Context, grantID int64) ([]model.LedgerEntry, error) {
	return s.list(ctx, `SELECT `+entryCols+` FROM ledger_entries WHERE grant_id = ? ORDER BY id ASC`, grantID)
}

// GetByReference returns the entry of a category carrying reference, or nil.
func (s *JournalStore) GetByReference(ctx context.Context, category model.EntryCategory, reference string) (*model.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryCols+` FROM ledger_entries WHERE category = ? AND reference = ? ORDER BY id ASC LIMIT 1`,
		category, reference,
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry by reference: %w", err)
	}
	return e, nil
}

// ListPending returns pending entries of a category, oldest first.
func (s *JournalStore) ListPending(ctx context.Context, category model.EntryCategory) ([]model.LedgerEntry, error) {
	return s.list(ctx,
		`SELECT `+entryCols+` FROM ledger_entries WHERE status = ? AND category = ? ORDER BY id ASC`,
		model.EntryPending, category,
	)
}

// Resolve moves a pending entry to its final status. The note and reference
// are replaced only when non-empty.
func (s *JournalStore) Resolve(ctx context.Context, id int64, status model.EntryStatus, actingAccountID *int64, note, reference string) (*model.LedgerEntry, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE ledger_entries
		 SET status = ?,
		     acting_account_id = COALESCE(?, acting_account_id),
		     note = CASE WHEN ? = '' THEN note ELSE ? END,
		     reference = CASE WHEN ? = '' THEN reference ELSE ? END,
		     updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, nullInt64(actingAccountID), note, note, reference, reference, time.Now().UTC(), id, model.EntryPending,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve ledger entry: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrEntryNotPending
	}
	return s.GetByID(ctx, id)
}

// SumCompletedCents returns the sum of all completed entries for an account.
func (s *JournalStore) SumCompletedCents(ctx context.Context, accountID int64) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries WHERE account_id = ? AND status = ?`,
		accountID, model.EntryCompleted,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum completed entries: %w", err)
	}
	return total, nil
}
