package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/sharepool/internal/auth"
	"github.com/dukerupert/sharepool/internal/ledger"
	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/money"
	"github.com/dukerupert/sharepool/internal/payments"
	"github.com/dukerupert/sharepool/internal/store"
	"github.com/shopspring/decimal"
)

const (
	defaultEntryLimit = 50
	maxEntryLimit     = 500
)

type WalletHandler struct {
	ledger   *ledger.Service
	accounts *store.AccountStore
	journal  *store.JournalStore
	payments *payments.Client
	logger   *slog.Logger
}

// NewWalletHandler builds the wallet endpoints. A nil payments client
// disables card checkout.
func NewWalletHandler(svc *ledger.Service, accounts *store.AccountStore, journal *store.JournalStore, pay *payments.Client, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{ledger: svc, accounts: accounts, journal: journal, payments: pay, logger: logger}
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID := auth.AccountID(r.Context())
	balance, err := h.ledger.Balance(r.Context(), accountID)
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"balance":    money.Format(balance),
	})
}

func (h *WalletHandler) Entries(w http.ResponseWriter, r *http.Request) {
	limit := defaultEntryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxEntryLimit {
			writeError(w, http.StatusBadRequest, "limit must be 1-500")
			return
		}
		limit = n
	}

	entries, err := h.journal.ListByAccount(r.Context(), auth.AccountID(r.Context()), limit)
	if err != nil {
		h.logger.Error("list entries", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type topupRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

// RequestTopup records a pending topup for an admin to approve.
func (h *WalletHandler) RequestTopup(w http.ResponseWriter, r *http.Request) {
	var req topupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.ledger.RequestTopup(r.Context(), auth.AccountID(r.Context()), req.Amount, req.Note)
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// CancelTopup withdraws the caller's own pending topup.
func (h *WalletHandler) CancelTopup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	entry, err := h.ledger.CancelTopup(r.Context(), id, auth.AccountID(r.Context()))
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Checkout records a pending topup and opens a card payment for it. The
// balance is credited when the payment webhook arrives.
func (h *WalletHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		writeError(w, http.StatusNotImplemented, "card payments are not configured")
		return
	}

	var req topupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	accountID := auth.AccountID(ctx)
	account, err := h.accounts.GetByID(ctx, accountID)
	if err != nil || account == nil {
		writeLedgerError(w, h.logger, ledger.ErrAccountNotFound)
		return
	}

	if req.Note == "" {
		req.Note = "card payment"
	}
	entry, err := h.ledger.RequestCardTopup(ctx, accountID, req.Amount, req.Note)
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}

	checkout, err := h.payments.CreateTopupCheckout(accountID, entry.ID, entry.Amount, account.Email)
	if err != nil {
		h.logger.Error("create checkout", "entry", entry.ID, "error", err)
		if _, cerr := h.ledger.AbandonCardTopup(ctx, entry.ID, accountID); cerr != nil {
			h.logger.Error("abandon orphaned topup", "entry", entry.ID, "error", cerr)
		}
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"entry":    entry,
		"checkout": checkout,
	})
}
