package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/sharepool/internal/ledger"
	"github.com/dukerupert/sharepool/internal/model"
	"github.com/shopspring/decimal"
)

func mockClient(hub *Hub, accountID int64, admin bool) *Client {
	return &Client{
		hub:       hub,
		send:      make(chan []byte, sendBufferSize),
		accountID: accountID,
		admin:     admin,
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return got
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
	return Message{}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Errorf("account %d got unexpected message %s", c.accountID, data)
	default:
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	c1 := mockClient(hub, 2, false)
	c2 := mockClient(hub, 3, false)

	hub.Register(c1)
	hub.Register(c2)
	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("clients = %d, want 2", got)
	}

	hub.Unregister(c1)
	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("clients = %d, want 1", got)
	}
	hub.Unregister(c2)
}

func TestSendToRoutesByAccount(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	phone := mockClient(hub, 7, false)
	laptop := mockClient(hub, 7, false)
	other := mockClient(hub, 8, false)
	for _, c := range []*Client{phone, laptop, other} {
		hub.Register(c)
	}

	hub.SendTo(7, NewMessage("balance", "updated", 7, map[string]any{"balance": "52.00"}))

	for _, c := range []*Client{phone, laptop} {
		got := receive(t, c)
		if got.Type != "balance_updated" {
			t.Errorf("type = %q, want balance_updated", got.Type)
		}
		if got.Data["balance"] != "52.00" {
			t.Errorf("balance = %v, want 52.00", got.Data["balance"])
		}
	}
	assertEmpty(t, other)
}

func TestSendToAdminsAndBroadcast(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	admin := mockClient(hub, 1, true)
	user := mockClient(hub, 2, false)
	hub.Register(admin)
	hub.Register(user)

	hub.SendToAdmins(NewMessage("topup", "pending", 5, nil))
	if got := receive(t, admin); got.ID != 5 {
		t.Errorf("id = %d, want 5", got.ID)
	}
	assertEmpty(t, user)

	hub.Broadcast(NewMessage("listing", "verified", 3, nil))
	receive(t, admin)
	receive(t, user)
}

func TestFullBufferDrops(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	c := mockClient(hub, 4, false)
	hub.Register(c)

	for i := 0; i < sendBufferSize+3; i++ {
		hub.SendTo(4, NewMessage("balance", "updated", int64(i), nil))
	}

	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered = %d, want %d", got, sendBufferSize)
	}
	hub.Unregister(c)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			c := mockClient(hub, id, false)
			hub.Register(c)
			hub.SendTo(id, NewMessage("balance", "updated", id, nil))
			hub.Broadcast(NewMessage("test", "concurrent", 0, nil))
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}(int64(i))
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("clients = %d, want 0", got)
	}
}

func TestLedgerNotifier(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	admin := mockClient(hub, model.PlatformAccountID, true)
	buyer := mockClient(hub, 10, false)
	hub.Register(admin)
	hub.Register(buyer)
	n := NewLedgerNotifier(hub)

	grant := &model.Grant{ID: 99, BuyerID: 10, ListingID: 4, Price: decimal.NewFromInt(48)}

	n.Observe(ledger.Event{Kind: ledger.EventBalanceChanged, AccountID: 10, Balance: decimal.RequireFromString("52")})
	if got := receive(t, buyer); got.Type != "balance_updated" || got.Data["balance"] != "52.00" {
		t.Errorf("balance message = %+v", got)
	}

	n.Observe(ledger.Event{Kind: ledger.EventSettlement, AccountID: 10, Grant: grant})
	if got := receive(t, buyer); got.Type != "grant_created" || got.ID != 99 || got.Data["price"] != "48.00" {
		t.Errorf("grant message = %+v", got)
	}

	n.Observe(ledger.Event{Kind: ledger.EventGrantExpired, AccountID: 10, Grant: grant, Reason: ledger.TriggerSweep})
	if got := receive(t, buyer); got.Type != "grant_expired" || got.Data["trigger"] != "sweep" {
		t.Errorf("expiry message = %+v", got)
	}

	pending := &model.LedgerEntry{ID: 12, AccountID: 10, Amount: decimal.NewFromInt(25), Status: model.EntryPending}
	n.Observe(ledger.Event{Kind: ledger.EventTopup, AccountID: 10, Entry: pending})
	if got := receive(t, buyer); got.Type != "topup_pending" {
		t.Errorf("buyer topup message = %+v", got)
	}
	if got := receive(t, admin); got.Type != "topup_pending" || got.ID != 12 {
		t.Errorf("admin topup message = %+v", got)
	}

	debit := &model.LedgerEntry{ID: 13, AccountID: 10, Amount: decimal.NewFromInt(-5), Category: model.CategoryRefund,
		Status: model.EntryCompleted, Note: "chargeback"}
	n.Observe(ledger.Event{Kind: ledger.EventAdjustment, AccountID: 10, Entry: debit})
	if got := receive(t, buyer); got.Type != "adjustment_refund" || got.Data["amount"] != "-5.00" {
		t.Errorf("adjustment message = %+v", got)
	}
	assertEmpty(t, admin)

	n.Observe(ledger.Event{Kind: ledger.EventSettlementRejected, AccountID: 10, Reason: "insufficient_funds"})
	assertEmpty(t, buyer)
	assertEmpty(t, admin)
}
