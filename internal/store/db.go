package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so every store can run
// inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	ErrAccountNotFound = errors.New("account not found")
	// ErrBalanceGuard is returned when an adjustment would leave a negative balance.
	ErrBalanceGuard    = errors.New("balance would become negative")
	ErrEntryNotPending = errors.New("ledger entry is not pending")
)

// Tx bundles the stores bound to a single transaction.
type Tx struct {
	Accounts *AccountStore
	Listings *ListingStore
	Grants   *GrantStore
	Journal  *JournalStore
	Settings *SettingsStore
}

func newTx(q DBTX) *Tx {
	return &Tx{
		Accounts: NewAccountStore(q),
		Listings: NewListingStore(q),
		Grants:   NewGrantStore(q),
		Journal:  NewJournalStore(q),
		Settings: NewSettingsStore(q),
	}
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise; fn's error is returned unchanged.
func WithTx(ctx context.Context, db *sql.DB, fn func(*Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(newTx(tx)); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
