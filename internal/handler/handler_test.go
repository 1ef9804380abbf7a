package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/dukerupert/sharepool/internal/auth"
	"github.com/dukerupert/sharepool/internal/backup"
	"github.com/dukerupert/sharepool/internal/database"
	"github.com/dukerupert/sharepool/internal/ledger"
	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/payments"
	"github.com/dukerupert/sharepool/internal/store"
	"github.com/dukerupert/sharepool/internal/vault"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82/webhook"
)

const webhookSecret = "whsec_handler_test"

type fixture struct {
	db       *sql.DB
	svc      *ledger.Service
	accounts *store.AccountStore
	tokens   *auth.TokenManager

	auth     *AuthHandler
	wallet   *WalletHandler
	listings *ListingHandler
	admin    *AdminHandler
	webhook  *WebhookHandler

	buyer *model.Account
	owner *model.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sealer, err := vault.NewSealer("test passphrase", make([]byte, 16))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	accounts := store.NewAccountStore(db)
	listings := store.NewListingStore(db)
	journal := store.NewJournalStore(db)
	settings := store.NewSettingsStore(db)
	svc := ledger.NewService(db, sealer, nil, logger)
	tokens := auth.NewTokenManager("test-secret-test-secret", time.Hour)
	pay := payments.NewClient(payments.Config{SecretKey: "sk_test", WebhookSecret: webhookSecret})
	backups := backup.NewManager(backup.Config{}, db, store.NewBackupStore(db), logger, nil)

	f := &fixture{
		db:       db,
		svc:      svc,
		accounts: accounts,
		tokens:   tokens,
		auth:     NewAuthHandler(auth.NewAuthenticator(accounts), tokens, accounts, logger),
		wallet:   NewWalletHandler(svc, accounts, journal, nil, logger),
		listings: NewListingHandler(svc, listings, store.NewGrantStore(db), logger),
		admin:    NewAdminHandler(db, svc, accounts, listings, settings, backups, nil, logger),
		webhook:  NewWebhookHandler(pay, svc, journal, logger),
	}

	f.buyer, err = accounts.Create(ctx, "buyer@example.com", "Buyer", "", model.RoleUser)
	if err != nil {
		t.Fatalf("create buyer: %v", err)
	}
	f.owner, err = accounts.Create(ctx, "owner@example.com", "Owner", "", model.RoleUser)
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	return f
}

var admin = auth.Identity{AccountID: model.PlatformAccountID, Role: model.RoleAdmin}

func user(a *model.Account) auth.Identity {
	return auth.Identity{AccountID: a.ID, Role: a.Role}
}

type call struct {
	method  string
	body    any
	id      int64
	as      *auth.Identity
	headers map[string]string
}

func do(t *testing.T, h http.HandlerFunc, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		if err := json.NewEncoder(&buf).Encode(c.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	if c.method == "" {
		c.method = http.MethodGet
	}
	req := httptest.NewRequest(c.method, "/", &buf)
	if c.id != 0 {
		req.SetPathValue("id", strconv.FormatInt(c.id, 10))
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.as != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *c.as))
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (f *fixture) listing(t *testing.T, price string) *model.Listing {
	t.Helper()
	owner := user(f.owner)
	rec := do(t, f.listings.Create, call{method: http.MethodPost, as: &owner, body: map[string]string{
		"title":          "Family plan",
		"service_name":   "streamflix",
		"price_per_hour": price,
		"username":       "family@streamflix.test",
		"password":       "hunter2",
	}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create listing status = %d, body %s", rec.Code, rec.Body)
	}
	l := decode[model.Listing](t, rec)

	rec = do(t, f.admin.VerifyListing, call{method: http.MethodPost, as: &admin, id: l.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", rec.Code, rec.Body)
	}
	return &l
}

func (f *fixture) fund(t *testing.T, accountID int64, amount string) {
	t.Helper()
	rec := do(t, f.admin.Adjust, call{method: http.MethodPost, as: &admin, id: accountID,
		body: map[string]string{"amount": amount, "reason": "test funding"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("adjust status = %d, body %s", rec.Code, rec.Body)
	}
}

func (f *fixture) assertBalance(t *testing.T, accountID int64, want string) {
	t.Helper()
	got, err := f.svc.Balance(context.Background(), accountID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("balance of %d = %s, want %s", accountID, got, want)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)

	rec := do(t, f.auth.Register, call{method: http.MethodPost, body: map[string]string{
		"email": "New@Example.com", "password": "longenough",
	}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[tokenResponse](t, rec)
	if resp.Account.Email != "new@example.com" || resp.Account.Role != model.RoleUser {
		t.Errorf("account = %+v", resp.Account)
	}
	id, err := f.tokens.Validate(resp.Token)
	if err != nil {
		t.Fatalf("validate issued token: %v", err)
	}
	if id.AccountID != resp.Account.ID {
		t.Errorf("token account = %d, want %d", id.AccountID, resp.Account.ID)
	}

	tests := []struct {
		name string
		h    http.HandlerFunc
		body map[string]string
		want int
	}{
		{"duplicate", f.auth.Register, map[string]string{"email": "new@example.com", "password": "longenough"}, http.StatusConflict},
		{"weak password", f.auth.Register, map[string]string{"email": "x@example.com", "password": "short"}, http.StatusBadRequest},
		{"bad email", f.auth.Register, map[string]string{"email": "nope", "password": "longenough"}, http.StatusBadRequest},
		{"wrong password", f.auth.Login, map[string]string{"email": "new@example.com", "password": "incorrect"}, http.StatusUnauthorized},
		{"unknown email", f.auth.Login, map[string]string{"email": "ghost@example.com", "password": "longenough"}, http.StatusUnauthorized},
		{"login", f.auth.Login, map[string]string{"email": "NEW@example.com", "password": "longenough"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, tt.h, call{method: http.MethodPost, body: tt.body})
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.buyer.ID, "12.50")

	buyer := user(f.buyer)
	rec := do(t, f.auth.Me, call{as: &buyer})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[model.Account](t, rec)
	if got.ID != f.buyer.ID || !got.Balance.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("account = %+v", got)
	}
}

func TestPurchaseFlow(t *testing.T) {
	f := newFixture(t)
	l := f.listing(t, "2.00")
	f.fund(t, f.buyer.ID, "100")

	buyer := user(f.buyer)
	key := map[string]string{"Idempotency-Key": "purchase-1"}
	rec := do(t, f.listings.Purchase, call{method: http.MethodPost, as: &buyer, id: l.ID,
		body: map[string]int{"hours": 24}, headers: key})
	if rec.Code != http.StatusCreated {
		t.Fatalf("purchase status = %d, body %s", rec.Code, rec.Body)
	}
	p := decode[ledger.Purchase](t, rec)
	if !p.Grant.Price.Equal(decimal.RequireFromString("48")) {
		t.Errorf("price = %s, want 48", p.Grant.Price)
	}
	if len(p.Entries) != 3 {
		t.Errorf("entries = %d, want 3", len(p.Entries))
	}
	f.assertBalance(t, f.buyer.ID, "52.00")
	f.assertBalance(t, f.owner.ID, "43.20")
	f.assertBalance(t, model.PlatformAccountID, "4.80")

	rec = do(t, f.listings.Purchase, call{method: http.MethodPost, as: &buyer, id: l.ID,
		body: map[string]int{"hours": 24}, headers: key})
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d, body %s", rec.Code, rec.Body)
	}
	if !decode[ledger.Purchase](t, rec).Replayed {
		t.Error("expected replayed purchase")
	}
	f.assertBalance(t, f.buyer.ID, "52.00")

	rec = do(t, f.listings.Credentials, call{as: &buyer, id: l.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("credentials status = %d, body %s", rec.Code, rec.Body)
	}
	creds := decode[ledger.Credentials](t, rec)
	if creds.Username != "family@streamflix.test" || creds.Password != "hunter2" {
		t.Errorf("credentials = %+v", creds)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("credentials response must not be cached")
	}

	rec = do(t, f.listings.Grants, call{as: &buyer})
	if grants := decode[[]model.Grant](t, rec); len(grants) != 1 {
		t.Errorf("grants = %d, want 1", len(grants))
	}
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	l := f.listing(t, "2.00")
	f.fund(t, f.buyer.ID, "10")

	buyer := user(f.buyer)
	rec := do(t, f.listings.Purchase, call{method: http.MethodPost, as: &buyer, id: l.ID,
		body: map[string]int{"hours": 24}})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402, body %s", rec.Code, rec.Body)
	}
	body := decode[map[string]string](t, rec)
	if body["required"] != "48.00" || body["available"] != "10.00" {
		t.Errorf("body = %v, want required 48.00 and available 10.00", body)
	}
	f.assertBalance(t, f.buyer.ID, "10.00")
}

func TestPurchaseRejections(t *testing.T) {
	f := newFixture(t)
	l := f.listing(t, "2.00")
	f.fund(t, f.buyer.ID, "100")
	f.fund(t, f.owner.ID, "100")

	buyer, owner := user(f.buyer), user(f.owner)
	tests := []struct {
		name    string
		as      auth.Identity
		id      int64
		body    any
		headers map[string]string
		want    int
	}{
		{"zero hours", buyer, l.ID, map[string]int{"hours": 0}, nil, http.StatusBadRequest},
		{"below minimum", buyer, l.ID, map[string]int{"hours": 5}, nil, http.StatusBadRequest},
		{"above maximum", buyer, l.ID, map[string]int{"hours": ledger.MaxPurchaseHours + 1}, nil, http.StatusBadRequest},
		{"max int hours", buyer, l.ID, map[string]int{"hours": math.MaxInt}, nil, http.StatusBadRequest},
		{"unknown listing", buyer, l.ID + 100, map[string]int{"hours": 24}, nil, http.StatusNotFound},
		{"self purchase", owner, l.ID, map[string]int{"hours": 24}, nil, http.StatusForbidden},
		{"malformed body", buyer, l.ID, "hours", nil, http.StatusBadRequest},
		{"long key", buyer, l.ID, map[string]int{"hours": 24},
			map[string]string{"Idempotency-Key": string(bytes.Repeat([]byte("k"), 200))}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, f.listings.Purchase, call{method: http.MethodPost, as: &tt.as, id: tt.id,
				body: tt.body, headers: tt.headers})
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
	f.assertBalance(t, f.buyer.ID, "100.00")
}

func TestPurchaseUnverifiedListing(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.buyer.ID, "100")

	owner, buyer := user(f.owner), user(f.buyer)
	rec := do(t, f.listings.Create, call{method: http.MethodPost, as: &owner, body: map[string]string{
		"title": "Pending", "service_name": "musicbox", "price_per_hour": "1.00",
		"username": "u", "password": "p",
	}})
	l := decode[model.Listing](t, rec)

	rec = do(t, f.listings.Purchase, call{method: http.MethodPost, as: &buyer, id: l.ID,
		body: map[string]int{"hours": 24}})
	if rec.Code != http.StatusConflict {
		t.Errorf("purchase status = %d, want 409", rec.Code)
	}

	rec = do(t, f.listings.Get, call{as: &buyer, id: l.ID})
	if rec.Code != http.StatusNotFound {
		t.Errorf("buyer get status = %d, want 404", rec.Code)
	}
	rec = do(t, f.listings.Get, call{as: &owner, id: l.ID})
	if rec.Code != http.StatusOK {
		t.Errorf("owner get status = %d, want 200", rec.Code)
	}
}

func TestCredentialsWithoutGrant(t *testing.T) {
	f := newFixture(t)
	l := f.listing(t, "2.00")

	buyer := user(f.buyer)
	rec := do(t, f.listings.Credentials, call{as: &buyer, id: l.ID})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestDeactivateListing(t *testing.T) {
	f := newFixture(t)
	l := f.listing(t, "2.00")

	buyer, owner := user(f.buyer), user(f.owner)
	if rec := do(t, f.listings.Deactivate, call{method: http.MethodPost, as: &buyer, id: l.ID}); rec.Code != http.StatusNotFound {
		t.Errorf("non-owner status = %d, want 404", rec.Code)
	}
	rec := do(t, f.listings.Deactivate, call{method: http.MethodPost, as: &owner, id: l.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("owner status = %d, body %s", rec.Code, rec.Body)
	}
	if decode[model.Listing](t, rec).Active {
		t.Error("listing still active")
	}

	rec = do(t, f.listings.List, call{as: &buyer})
	if got := decode[[]model.Listing](t, rec); len(got) != 0 {
		t.Errorf("purchasable listings = %d, want 0", len(got))
	}
}

func TestTopupWorkflow(t *testing.T) {
	f := newFixture(t)
	buyer := user(f.buyer)

	rec := do(t, f.wallet.RequestTopup, call{method: http.MethodPost, as: &buyer,
		body: map[string]string{"amount": "2", "note": "too small"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("below minimum status = %d, want 400", rec.Code)
	}

	rec = do(t, f.wallet.RequestTopup, call{method: http.MethodPost, as: &buyer,
		body: map[string]string{"amount": "25.00", "note": "bank transfer"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("request status = %d, body %s", rec.Code, rec.Body)
	}
	entry := decode[model.LedgerEntry](t, rec)
	f.assertBalance(t, f.buyer.ID, "0")

	rec = do(t, f.admin.PendingTopups, call{as: &admin})
	if pending := decode[[]model.LedgerEntry](t, rec); len(pending) != 1 || pending[0].ID != entry.ID {
		t.Errorf("pending = %+v", pending)
	}

	rec = do(t, f.admin.ApproveTopup, call{method: http.MethodPost, as: &admin, id: entry.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body %s", rec.Code, rec.Body)
	}
	f.assertBalance(t, f.buyer.ID, "25.00")

	rec = do(t, f.admin.RejectTopup, call{method: http.MethodPost, as: &admin, id: entry.ID,
		body: map[string]string{"reason": "late"}})
	if rec.Code != http.StatusConflict {
		t.Errorf("reject after approve status = %d, want 409", rec.Code)
	}

	rec = do(t, f.wallet.Entries, call{as: &buyer})
	if entries := decode[[]model.LedgerEntry](t, rec); len(entries) != 1 || entries[0].Status != model.EntryCompleted {
		t.Errorf("entries = %+v", entries)
	}

	rec = do(t, f.wallet.Balance, call{as: &buyer})
	if got := decode[map[string]any](t, rec)["balance"]; got != "25.00" {
		t.Errorf("wallet balance = %v, want 25.00", got)
	}
}

func TestCancelTopup(t *testing.T) {
	f := newFixture(t)
	buyer, owner := user(f.buyer), user(f.owner)

	rec := do(t, f.wallet.RequestTopup, call{method: http.MethodPost, as: &buyer,
		body: map[string]string{"amount": "10"}})
	entry := decode[model.LedgerEntry](t, rec)

	if rec := do(t, f.wallet.CancelTopup, call{method: http.MethodPost, as: &owner, id: entry.ID}); rec.Code != http.StatusNotFound {
		t.Errorf("other account cancel status = %d, want 404", rec.Code)
	}
	rec = do(t, f.wallet.CancelTopup, call{method: http.MethodPost, as: &buyer, id: entry.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", rec.Code, rec.Body)
	}
	if got := decode[model.LedgerEntry](t, rec).Status; got != model.EntryCancelled {
		t.Errorf("status = %q, want cancelled", got)
	}
}

func TestAdjustOverdraw(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.buyer.ID, "5")

	rec := do(t, f.admin.Adjust, call{method: http.MethodPost, as: &admin, id: f.buyer.ID,
		body: map[string]string{"amount": "-7.50", "reason": "chargeback"}})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402, body %s", rec.Code, rec.Body)
	}
	f.assertBalance(t, f.buyer.ID, "5.00")

	rec = do(t, f.admin.Adjust, call{method: http.MethodPost, as: &admin, id: f.buyer.ID,
		body: map[string]string{"amount": "3"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing reason status = %d, want 400", rec.Code)
	}

	rec = do(t, f.admin.Reconcile, call{as: &admin, id: f.buyer.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d", rec.Code)
	}
	if !decode[ledger.Reconciliation](t, rec).Consistent {
		t.Error("expected consistent ledger")
	}
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"empty", map[string]string{}, http.StatusBadRequest},
		{"unknown key", map[string]string{"theme": "dark"}, http.StatusBadRequest},
		{"commission over 100", map[string]string{ledger.KeyCommissionPercentage: "150"}, http.StatusBadRequest},
		{"min above max", map[string]string{ledger.KeyTopupMinAmount: "2000"}, http.StatusBadRequest},
		{"valid", map[string]string{ledger.KeyCommissionPercentage: "12.5", ledger.KeyMinPurchaseHours: "48"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, f.admin.UpdateSettings, call{method: http.MethodPut, as: &admin, body: tt.body})
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.want, rec.Body)
			}
		})
	}

	rec := do(t, f.admin.GetSettings, call{as: &admin})
	got := decode[map[string]string](t, rec)
	if got[ledger.KeyCommissionPercentage] != "12.5" || got[ledger.KeyMinPurchaseHours] != "48" {
		t.Errorf("settings = %v", got)
	}
	if got[ledger.KeyTopupMinAmount] != "5" {
		t.Errorf("rejected update leaked: topup min = %q, want 5", got[ledger.KeyTopupMinAmount])
	}
}

func TestCheckoutWithoutPayments(t *testing.T) {
	f := newFixture(t)
	buyer := user(f.buyer)
	rec := do(t, f.wallet.Checkout, call{method: http.MethodPost, as: &buyer, body: map[string]string{"amount": "10"}})
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

func signedEvent(t *testing.T, entryID int64, cents int64, status string) (string, []byte) {
	t.Helper()
	payload := fmt.Sprintf(`{"id":"evt_%d","object":"event","type":%q,"data":{"object":{"id":"cs_test_%d","object":"checkout.session","amount_total":%d,"payment_status":%q,"metadata":{"topup_entry_id":"%d"}}}}`,
		entryID, payments.EventCheckoutCompleted, entryID, cents, status, entryID)
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	return sp.Header, sp.Payload
}

func postWebhook(t *testing.T, f *fixture, header string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	f.webhook.Stripe(rec, req)
	return rec
}

func TestStripeWebhookCreditsTopup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.RequestTopup(ctx, f.buyer.ID, decimal.RequireFromString("40"), "card payment")
	if err != nil {
		t.Fatalf("request topup: %v", err)
	}

	header, body := signedEvent(t, entry.ID, 4000, "paid")
	if rec := postWebhook(t, f, header, body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	f.assertBalance(t, f.buyer.ID, "40.00")

	// Provider retries deliver the same event again.
	if rec := postWebhook(t, f, header, body); rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body %s", rec.Code, rec.Body)
	}
	f.assertBalance(t, f.buyer.ID, "40.00")
}

func TestStripeWebhookCreditsClosedCardTopup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	buyer := user(f.buyer)

	entry, err := f.svc.RequestCardTopup(ctx, f.buyer.ID, decimal.RequireFromString("20"), "card payment")
	if err != nil {
		t.Fatalf("request card topup: %v", err)
	}
	if rec := do(t, f.wallet.CancelTopup, call{method: http.MethodPost, as: &buyer, id: entry.ID}); rec.Code != http.StatusConflict {
		t.Errorf("cancel status = %d, want 409", rec.Code)
	}
	if _, err := f.svc.AbandonCardTopup(ctx, entry.ID, f.buyer.ID); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	header, body := signedEvent(t, entry.ID, 2000, "paid")
	for i := 0; i < 2; i++ {
		if rec := postWebhook(t, f, header, body); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d status = %d, body %s", i, rec.Code, rec.Body)
		}
		f.assertBalance(t, f.buyer.ID, "20.00")
	}
}

func TestStripeWebhookIgnoresMismatchedAmount(t *testing.T) {
	f := newFixture(t)
	entry, err := f.svc.RequestTopup(context.Background(), f.buyer.ID, decimal.RequireFromString("40"), "")
	if err != nil {
		t.Fatalf("request topup: %v", err)
	}

	header, body := signedEvent(t, entry.ID, 100, "paid")
	if rec := postWebhook(t, f, header, body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	f.assertBalance(t, f.buyer.ID, "0")

	header, body = signedEvent(t, entry.ID, 4000, "unpaid")
	postWebhook(t, f, header, body)
	f.assertBalance(t, f.buyer.ID, "0")
}

func TestStripeWebhookBadSignature(t *testing.T) {
	f := newFixture(t)
	_, body := signedEvent(t, 1, 100, "paid")
	if rec := postWebhook(t, f, "t=1,v1=deadbeef", body); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestBackupsNotConfigured(t *testing.T) {
	f := newFixture(t)

	if rec := do(t, f.admin.RunBackup, call{method: http.MethodPost, as: &admin}); rec.Code != http.StatusNotImplemented {
		t.Errorf("run status = %d, want 501", rec.Code)
	}
	rec := do(t, f.admin.ListBackups, call{as: &admin})
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	body := decode[map[string]json.RawMessage](t, rec)
	if string(body["backups"]) != "[]" {
		t.Errorf("backups = %s, want []", body["backups"])
	}
}

func TestPathIDValidation(t *testing.T) {
	f := newFixture(t)
	buyer := user(f.buyer)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetPathValue("id", "abc")
	req = req.WithContext(auth.WithIdentity(req.Context(), buyer))
	rec := httptest.NewRecorder()
	f.listings.Get(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
