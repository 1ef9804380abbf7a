package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/store"
)

// Credentials is the decrypted login of a shared subscription.
type Credentials struct {
	GrantID   int64     `json:"grant_id"`
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FetchCredentials discloses a listing's login while the buyer holds an active
// grant whose end time is in the future. Active grants found past their end
// time are expired as part of the read, and that change is committed even
// though the call then returns ErrAccessDenied.
func (s *Service) FetchCredentials(ctx context.Context, buyerID, listingID int64) (*Credentials, error) {
	now := s.now().UTC()
	var live *model.Grant
	var expired []model.Grant
	var sealed *model.SealedCredentials

	err := store.WithTx(ctx, s.db, func(tx *store.Tx) error {
		grants, err := tx.Grants.ListActive(ctx, buyerID, listingID)
		if err != nil {
			return err
		}

		for _, g := range grants {
			if now.Before(g.EndAt) {
				if live == nil {
					g := g
					live = &g
				}
				continue
			}
			if err := tx.Grants.MarkExpired(ctx, g.ID); err != nil {
				return err
			}
			g.Status = model.GrantExpired
			expired = append(expired, g)
		}

		if live == nil {
			return nil
		}
		sealed, err = tx.Listings.Credentials(ctx, listingID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}

	for i := range expired {
		s.logger.Info("grant expired on read", "grant", expired[i].ID, "buyer", buyerID)
		s.observer.Observe(Event{Kind: EventGrantExpired, AccountID: buyerID, Grant: &expired[i], Reason: TriggerLazy})
	}

	if live == nil {
		return nil, ErrAccessDenied
	}
	if sealed == nil {
		return nil, ErrListingNotFound
	}

	username, err := s.vault.Open(sealed.Username)
	if err != nil {
		return nil, fmt.Errorf("open username: %w", err)
	}
	password, err := s.vault.Open(sealed.Password)
	if err != nil {
		return nil, fmt.Errorf("open password: %w", err)
	}

	return &Credentials{
		GrantID:   live.ID,
		Username:  username,
		Password:  password,
		ExpiresAt: live.EndAt,
	}, nil
}
