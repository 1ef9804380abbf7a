package websocket

import (
	"github.com/dukerupert/sharepool/internal/ledger"
	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/money"
)

// LedgerNotifier forwards committed ledger events to the affected account.
type LedgerNotifier struct {
	hub *Hub
}

func NewLedgerNotifier(hub *Hub) *LedgerNotifier {
	return &LedgerNotifier{hub: hub}
}

func (n *LedgerNotifier) Observe(e ledger.Event) {
	switch e.Kind {
	case ledger.EventBalanceChanged:
		n.hub.SendTo(e.AccountID, NewMessage("balance", "updated", e.AccountID, map[string]any{
			"balance": money.Format(e.Balance),
		}))

	case ledger.EventSettlement:
		if e.Grant == nil {
			return
		}
		n.hub.SendTo(e.Grant.BuyerID, NewMessage("grant", "created", e.Grant.ID, map[string]any{
			"listing_id": e.Grant.ListingID,
			"price":      money.Format(e.Grant.Price),
			"end_at":     e.Grant.EndAt,
		}))

	case ledger.EventGrantExpired:
		if e.Grant == nil {
			return
		}
		n.hub.SendTo(e.Grant.BuyerID, NewMessage("grant", "expired", e.Grant.ID, map[string]any{
			"listing_id": e.Grant.ListingID,
			"trigger":    e.Reason,
		}))

	case ledger.EventTopup:
		if e.Entry == nil {
			return
		}
		msg := NewMessage("topup", string(e.Entry.Status), e.Entry.ID, map[string]any{
			"amount": money.Format(e.Entry.Amount),
		})
		n.hub.SendTo(e.Entry.AccountID, msg)
		if e.Entry.Status == model.EntryPending {
			n.hub.SendToAdmins(msg)
		}

	case ledger.EventAdjustment:
		if e.Entry == nil {
			return
		}
		n.hub.SendTo(e.Entry.AccountID, NewMessage("adjustment", string(e.Entry.Category), e.Entry.ID, map[string]any{
			"amount": money.Format(e.Entry.Amount),
			"reason": e.Entry.Note,
		}))
	}
}
