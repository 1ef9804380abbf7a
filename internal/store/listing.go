package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/sharepool/internal/model"
	"github.com/shopspring/decimal"
)

type ListingStore struct {
	db DBTX
}

func NewListingStore(db DBTX) *ListingStore {
	return &ListingStore{db: db}
}

func scanListing(scanner interface{ Scan(...any) error }) (*model.Listing, error) {
	var l model.Listing
	var active int

	err := scanner.Scan(&l.ID, &l.OwnerID, &l.Title, &l.ServiceName, &l.Description, &l.PricePerHour,
		&l.Verification, &active, &l.UsageCount, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}

	l.Active = active != 0
	return &l, nil
}

const listingCols = `id, owner_id, title, service_name, description, price_per_hour, verification, active, usage_count, created_at, updated_at`

// Create inserts an active listing awaiting verification. The credentials
// must already be sealed by the vault.
func (s *ListingStore) Create(ctx context.Context, ownerID int64, title, serviceName, description string, pricePerHour decimal.Decimal, creds model.SealedCredentials) (*model.Listing, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO listings (owner_id, title, service_name, description, price_per_hour, username_sealed, password_sealed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ownerID, title, serviceName, description, pricePerHour.String(), creds.Username, creds.Password, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ListingStore) GetByID(ctx context.Context, id int64) (*model.Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingCols+` FROM listings WHERE id = ?`, id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

func (s *ListingStore) list(ctx context.Context, query string, args ...any) ([]model.Listing, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

// ListPurchasable returns verified, active listings, most used first.
func (s *ListingStore) ListPurchasable(ctx context.Context) ([]model.Listing, error) {
	return s.list(ctx,
		`SELECT `+listingCols+` FROM listings WHERE verification = ? AND active = 1 ORDER BY usage_count DESC, id ASC`,
		model.VerificationVerified,
	)
}

func (s *ListingStore) ListByOwner(ctx context.Context, ownerID int64) ([]model.Listing, error) {
	return s.list(ctx, `SELECT `+listingCols+` FROM listings WHERE owner_id = ? ORDER BY id ASC`, ownerID)
}

func (s *ListingStore) ListByVerification(ctx context.Context, v model.Verification) ([]model.Listing, error) {
	return s.list(ctx, `SELECT `+listingCols+` FROM listings WHERE verification = ? ORDER BY id ASC`, v)
}

func (s *ListingStore) SetVerification(ctx context.Context, id int64, v model.Verification) (*model.Listing, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE listings SET verification = ?, updated_at = ? WHERE id = ?`,
		v, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("set verification: %w", err)
	}
	return s.GetByID(ctx, id)
}

// SetActive toggles availability. Listings are never deleted.
func (s *ListingStore) SetActive(ctx context.Context, id int64, active bool) (*model.Listing, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE listings SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("set active: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ListingStore) IncrementUsage(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE listings SET usage_count = usage_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	if n, _ := result.RowsAffected(); n != 1 {
		return fmt.Errorf("increment usage: listing %d not updated", id)
	}
	return nil
}

// Credentials returns the sealed login for a listing, or nil if it does not exist.
func (s *ListingStore) Credentials(ctx context.Context, id int64) (*model.SealedCredentials, error) {
	var c model.SealedCredentials
	err := s.db.QueryRowContext(ctx,
		`SELECT username_sealed, password_sealed FROM listings WHERE id = ?`, id,
	).Scan(&c.Username, &c.Password)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return &c, nil
}
