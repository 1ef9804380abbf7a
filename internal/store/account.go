package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/money"
)

type AccountStore struct {
	db DBTX
}

func NewAccountStore(db DBTX) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var cents int64

	err := scanner.Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.Role, &cents, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Balance = money.FromCents(cents)
	return &a, nil
}

const accountCols = `id, email, display_name, password_hash, role, balance_cents, created_at, updated_at`

// Create inserts a new account with a zero balance.
func (s *AccountStore) Create(ctx context.Context, email, displayName, passwordHash, role string) (*model.Account, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (email, display_name, password_hash, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		strings.ToLower(strings.TrimSpace(email)), displayName, passwordHash, role, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *AccountStore) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

// List returns all accounts ordered by id.
func (s *AccountStore) List(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// BalanceCents returns the current balance, or ErrAccountNotFound.
func (s *AccountStore) BalanceCents(ctx context.Context, id int64) (int64, error) {
	var cents int64
	err := s.db.QueryRowContext(ctx, `SELECT balance_cents FROM accounts WHERE id = ?`, id).Scan(&cents)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return cents, nil
}

// Adjust applies a signed delta to the balance in one conditional statement
// and returns the new balance. There is no way to set a balance directly.
func (s *AccountStore) Adjust(ctx context.Context, id, deltaCents int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ?
		 WHERE id = ? AND balance_cents + ? >= 0
		 RETURNING balance_cents`,
		deltaCents, time.Now().UTC(), id, deltaCents,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.BalanceCents(ctx, id); err != nil {
			return 0, err
		}
		return 0, ErrBalanceGuard
	}
	if err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	return balance, nil
}

func (s *AccountStore) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return nil
}

func (s *AccountStore) SetEmail(ctx context.Context, id int64, email string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET email = ?, updated_at = ? WHERE id = ?`,
		strings.ToLower(strings.TrimSpace(email)), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set email: %w", err)
	}
	return nil
}
