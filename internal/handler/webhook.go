package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/sharepool/internal/ledger"
	"github.com/dukerupert/sharepool/internal/money"
	"github.com/dukerupert/sharepool/internal/payments"
	"github.com/dukerupert/sharepool/internal/store"
)

const maxWebhookBytes = 64 << 10

type WebhookHandler struct {
	payments *payments.Client
	ledger   *ledger.Service
	journal  *store.JournalStore
	logger   *slog.Logger
}

func NewWebhookHandler(pay *payments.Client, svc *ledger.Service, journal *store.JournalStore, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{payments: pay, ledger: svc, journal: journal, logger: logger}
}

// Stripe credits a topup once its checkout session is paid. Events the
// ledger does not care about are acknowledged and ignored so the provider
// stops retrying them.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		writeError(w, http.StatusNotFound, "card payments are not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	event, err := h.payments.ConstructWebhookEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if string(event.Type) != payments.EventCheckoutCompleted {
		w.WriteHeader(http.StatusOK)
		return
	}

	paid, err := payments.ParsePaidTopup(event)
	if errors.Is(err, payments.ErrNotTopup) {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		h.logger.Error("parse checkout session", "event", event.ID, "error", err)
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}
	if !paid.Paid {
		h.logger.Info("checkout completed without payment", "entry", paid.EntryID, "session", paid.SessionID)
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	entry, err := h.journal.GetByID(ctx, paid.EntryID)
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	if entry == nil {
		h.logger.Warn("checkout for unknown topup", "entry", paid.EntryID, "session", paid.SessionID)
		w.WriteHeader(http.StatusOK)
		return
	}
	expected, err := money.ToCents(entry.Amount)
	if err != nil || expected != paid.AmountCents {
		h.logger.Error("checkout amount mismatch", "entry", entry.ID,
			"expected", money.Format(entry.Amount), "paid_cents", paid.AmountCents)
		w.WriteHeader(http.StatusOK)
		return
	}

	credited, err := h.ledger.CompleteExternalTopup(ctx, paid.EntryID, paid.SessionID)
	if err != nil {
		if errors.Is(err, ledger.ErrTopupNotPending) {
			h.logger.Warn("paid topup no longer pending", "entry", paid.EntryID, "session", paid.SessionID)
			w.WriteHeader(http.StatusOK)
			return
		}
		writeLedgerError(w, h.logger, err)
		return
	}

	h.logger.Info("card topup credited", "entry", credited.ID, "topup", paid.EntryID, "session", paid.SessionID)
	w.WriteHeader(http.StatusOK)
}
