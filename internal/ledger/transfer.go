package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dukerupert/sharepool/internal/money"
	"github.com/dukerupert/sharepool/internal/store"
	"github.com/shopspring/decimal"
)

// Leg is one account's side of a transfer.
type Leg struct {
	AccountID int64
	Delta     decimal.Decimal
}

// Transfer is a multi-leg balance movement applied as one unit.
type Transfer struct {
	Legs []Leg
}

// Net returns the sum of all legs. A settlement transfer nets to zero.
func (t Transfer) Net() decimal.Decimal {
	net := decimal.Zero
	for _, l := range t.Legs {
		net = net.Add(l.Delta)
	}
	return net
}

// apply runs every non-zero leg through the account store inside the
// caller's transaction and returns the resulting balances. Debits run first.
// Any rejected leg returns an error and the caller must roll back.
func (t Transfer) apply(ctx context.Context, accounts *store.AccountStore) (map[int64]decimal.Decimal, error) {
	legs := make([]Leg, len(t.Legs))
	copy(legs, t.Legs)
	sort.SliceStable(legs, func(i, j int) bool {
		return legs[i].Delta.LessThan(legs[j].Delta)
	})

	balances := make(map[int64]decimal.Decimal, len(legs))
	for _, l := range legs {
		if l.Delta.IsZero() {
			continue
		}
		delta, err := money.ToCents(l.Delta)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		cents, err := accounts.Adjust(ctx, l.AccountID, delta)
		switch {
		case errors.Is(err, store.ErrBalanceGuard):
			return nil, fmt.Errorf("%w: account %d delta %s", ErrNegativeBalance, l.AccountID, money.Format(l.Delta))
		case errors.Is(err, store.ErrAccountNotFound):
			return nil, fmt.Errorf("%w: account %d", ErrAccountNotFound, l.AccountID)
		case err != nil:
			return nil, err
		}
		balances[l.AccountID] = money.FromCents(cents)
	}
	return balances, nil
}
