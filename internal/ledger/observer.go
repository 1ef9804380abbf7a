package ledger

import (
	"time"

	"github.com/dukerupert/sharepool/internal/model"
	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventSettlement         EventKind = "settlement"
	EventSettlementRejected EventKind = "settlement_rejected"
	EventBalanceChanged     EventKind = "balance_changed"
	EventGrantExpired       EventKind = "grant_expired"
	EventTopup              EventKind = "topup"
	EventAdjustment         EventKind = "adjustment"
)

// Expiry triggers reported on EventGrantExpired.
const (
	TriggerLazy  = "lazy"
	TriggerSweep = "sweep"
)

// Event describes something that has already been committed (or, for
// EventSettlementRejected, something that was refused).
type Event struct {
	Kind      EventKind
	AccountID int64
	Grant     *model.Grant
	Entry     *model.LedgerEntry
	Balance   decimal.Decimal
	Reason    string
	Duration  time.Duration
}

// Observer is notified after commit. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// Observers fans an event out to several observers.
type Observers []Observer

func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
