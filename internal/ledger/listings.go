package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/money"
	"github.com/dukerupert/sharepool/internal/store"
	"github.com/shopspring/decimal"
)

// NewListing is an owner's offer of a pooled subscription.
type NewListing struct {
	OwnerID      int64
	Title        string
	ServiceName  string
	Description  string
	PricePerHour decimal.Decimal
	Username     string
	Password     string
}

// CreateListing seals the credentials and stores the listing awaiting
// verification.
func (s *Service) CreateListing(ctx context.Context, nl NewListing) (*model.Listing, error) {
	nl.Title = strings.TrimSpace(nl.Title)
	nl.ServiceName = strings.TrimSpace(nl.ServiceName)
	if nl.Title == "" || nl.ServiceName == "" || nl.Username == "" || nl.Password == "" {
		return nil, fmt.Errorf("%w: title, service, username and password are required", ErrInvalidListing)
	}
	if !nl.PricePerHour.IsPositive() || !nl.PricePerHour.Equal(money.Round(nl.PricePerHour)) {
		return nil, fmt.Errorf("%w: price per hour must be positive with at most two decimal places", ErrInvalidListing)
	}

	username, err := s.vault.Seal(nl.Username)
	if err != nil {
		return nil, fmt.Errorf("seal username: %w", err)
	}
	password, err := s.vault.Seal(nl.Password)
	if err != nil {
		return nil, fmt.Errorf("seal password: %w", err)
	}

	listing, err := store.NewListingStore(s.db).Create(ctx, nl.OwnerID, nl.Title, nl.ServiceName,
		strings.TrimSpace(nl.Description), nl.PricePerHour,
		model.SealedCredentials{Username: username, Password: password})
	if err != nil {
		return nil, classify(err)
	}

	s.logger.Info("listing created", "listing", listing.ID, "owner", nl.OwnerID)
	return listing, nil
}

// DeactivateListing withdraws a listing from sale. Only its owner may do so.
// Existing grants are unaffected.
func (s *Service) DeactivateListing(ctx context.Context, ownerID, listingID int64) (*model.Listing, error) {
	var listing *model.Listing
	err := store.WithTx(ctx, s.db, func(tx *store.Tx) error {
		current, err := tx.Listings.GetByID(ctx, listingID)
		if err != nil {
			return err
		}
		if current == nil || current.OwnerID != ownerID {
			return ErrListingNotFound
		}
		listing, err = tx.Listings.SetActive(ctx, listingID, false)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return listing, nil
}

// ReviewListing records an admin's verification decision.
func (s *Service) ReviewListing(ctx context.Context, listingID int64, approve bool) (*model.Listing, error) {
	v := model.VerificationRejected
	if approve {
		v = model.VerificationVerified
	}

	listing, err := store.NewListingStore(s.db).SetVerification(ctx, listingID, v)
	if err != nil {
		return nil, classify(err)
	}
	if listing == nil {
		return nil, ErrListingNotFound
	}

	s.logger.Info("listing reviewed", "listing", listingID, "verification", v)
	return listing, nil
}
