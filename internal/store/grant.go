package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/money"
)

type GrantStore struct {
	db DBTX
}

func NewGrantStore(db DBTX) *GrantStore {
	return &GrantStore{db: db}
}

func scanGrant(scanner interface{ Scan(...any) error }) (*model.Grant, error) {
	var g model.Grant
	var priceCents, commissionCents int64
	var key sql.NullString

	err := scanner.Scan(&g.ID, &g.Reference, &g.ListingID, &g.BuyerID, &g.Hours, &g.BilledDays,
		&priceCents, &commissionCents, &g.CommissionPercentage, &g.Status, &g.StartAt, &g.EndAt, &key, &g.CreatedAt)
	if err != nil {
		return nil, err
	}

	g.Price = money.FromCents(priceCents)
	g.Commission = money.FromCents(commissionCents)
	g.IdempotencyKey = key.String
	return &g, nil
}

const grantCols = `id, reference, listing_id, buyer_id, hours, billed_days, price_cents, commission_cents, commission_percentage, status, start_at, end_at, idempotency_key, created_at`

// Create inserts an active grant. Reference, times, amounts and the optional
// idempotency key are taken from g.
func (s *GrantStore) Create(ctx context.Context, g model.Grant) (*model.Grant, error) {
	var key sql.NullString
	if g.IdempotencyKey != "" {
		key = sql.NullString{String: g.IdempotencyKey, Valid: true}
	}
	priceCents, err := money.ToCents(g.Price)
	if err != nil {
		return nil, fmt.Errorf("grant price: %w", err)
	}
	commissionCents, err := money.ToCents(g.Commission)
	if err != nil {
		return nil, fmt.Errorf("grant commission: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO grants (reference, listing_id, buyer_id, hours, billed_days, price_cents, commission_cents,
		                     commission_percentage, status, start_at, end_at, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Reference, g.ListingID, g.BuyerID, g.Hours, g.BilledDays, priceCents, commissionCents,
		g.CommissionPercentage.String(), model.GrantActive, g.StartAt.UTC(), g.EndAt.UTC(), key, g.StartAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert grant: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *GrantStore) GetByID(ctx context.Context, id int64) (*model.Grant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+grantCols+` FROM grants WHERE id = ?`, id)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	return g, nil
}

// GetByIdempotencyKey looks a key up within one buyer's purchases.
func (s *GrantStore) GetByIdempotencyKey(ctx context.Context, buyerID int64, key string) (*model.Grant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+grantCols+` FROM grants WHERE buyer_id = ? AND idempotency_key = ?`, buyerID, key)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get grant by idempotency key: %w", err)
	}
	return g, nil
}

func (s *GrantStore) list(ctx context.Context, query string, args ...any) ([]model.Grant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []model.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}

// ListActive returns the buyer's active grants for a listing, latest end first.
// Grants past their end time are included; the caller decides what to do with them.
func (s *GrantStore) ListActive(ctx context.Context, buyerID, listingID int64) ([]model.Grant, error) {
	return s.list(ctx,
		`SELECT `+grantCols+` FROM grants WHERE buyer_id = ? AND listing_id = ? AND status = ? ORDER BY end_at DESC`,
		buyerID, listingID, model.GrantActive,
	)
}

func (s *GrantStore) ListByBuyer(ctx context.Context, buyerID int64) ([]model.Grant, error) {
	return s.list(ctx, `SELECT `+grantCols+` FROM grants WHERE buyer_id = ? ORDER BY id DESC`, buyerID)
}

// MarkExpired moves a single active grant to expired. It is a no-op for
// grants in any other state.
func (s *GrantStore) MarkExpired(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE grants SET status = ? WHERE id = ? AND status = ?`,
		model.GrantExpired, id, model.GrantActive,
	)
	if err != nil {
		return fmt.Errorf("mark grant expired: %w", err)
	}
	return nil
}

// ExpireDue expires every active grant whose end time is at or before now
// and returns the grants it changed.
func (s *GrantStore) ExpireDue(ctx context.Context, now time.Time) ([]model.Grant, error) {
	return s.list(ctx,
		`UPDATE grants SET status = ? WHERE status = ? AND end_at <= ? RETURNING `+grantCols,
		model.GrantExpired, model.GrantActive, now.UTC(),
	)
}

// CountByStatus returns the number of grants in each status.
func (s *GrantStore) CountByStatus(ctx context.Context) (map[model.GrantStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM grants GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count grants: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.GrantStatus]int64)
	for rows.Next() {
		var status model.GrantStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan grant count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
