package handler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/sharepool/internal/auth"
	"github.com/dukerupert/sharepool/internal/backup"
	"github.com/dukerupert/sharepool/internal/ledger"
	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/store"
	"github.com/dukerupert/sharepool/internal/websocket"
	"github.com/shopspring/decimal"
)

type AdminHandler struct {
	db       *sql.DB
	ledger   *ledger.Service
	accounts *store.AccountStore
	listings *store.ListingStore
	settings *store.SettingsStore
	backups  *backup.Manager
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewAdminHandler(
	db *sql.DB,
	svc *ledger.Service,
	accounts *store.AccountStore,
	listings *store.ListingStore,
	settings *store.SettingsStore,
	backups *backup.Manager,
	hub *websocket.Hub,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		db:       db,
		ledger:   svc,
		accounts: accounts,
		listings: listings,
		settings: settings,
		backups:  backups,
		hub:      hub,
		logger:   logger,
	}
}

func (h *AdminHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

func (h *AdminHandler) Accounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context())
	if err != nil {
		h.logger.Error("list accounts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// Listings filters listings by verification state, pending by default.
func (h *AdminHandler) Listings(w http.ResponseWriter, r *http.Request) {
	v := model.Verification(r.URL.Query().Get("verification"))
	switch v {
	case "":
		v = model.VerificationPending
	case model.VerificationPending, model.VerificationVerified, model.VerificationRejected:
	default:
		writeError(w, http.StatusBadRequest, "verification must be pending, verified or rejected")
		return
	}

	listings, err := h.listings.ListByVerification(r.Context(), v)
	if err != nil {
		h.logger.Error("list listings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		return
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

func (h *AdminHandler) VerifyListing(w http.ResponseWriter, r *http.Request) {
	h.reviewListing(w, r, true)
}

func (h *AdminHandler) RejectListing(w http.ResponseWriter, r *http.Request) {
	h.reviewListing(w, r, false)
}

func (h *AdminHandler) reviewListing(w http.ResponseWriter, r *http.Request, approve bool) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	listing, err := h.ledger.ReviewListing(r.Context(), id, approve)
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	h.broadcast(websocket.NewMessage("listing", string(listing.Verification), listing.ID, nil))
	writeJSON(w, http.StatusOK, listing)
}

func (h *AdminHandler) PendingTopups(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.PendingTopups(r.Context())
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *AdminHandler) ApproveTopup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	entry, err := h.ledger.ApproveTopup(r.Context(), id, auth.AccountID(r.Context()))
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *AdminHandler) RejectTopup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.ledger.RejectTopup(r.Context(), id, auth.AccountID(r.Context()), req.Reason)
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Adjust credits or debits an account outside the topup workflow.
func (h *AdminHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Reason string          `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	entry, err := h.ledger.AdjustBalance(r.Context(), id, req.Amount, req.Reason, auth.AccountID(r.Context()))
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rec, err := h.ledger.Reconcile(r.Context(), id)
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetLedgerSettings(r.Context())
	if err != nil {
		h.logger.Error("get settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings writes ledger settings. Every key is validated and the
// whole update is applied in one transaction or not at all.
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req) == 0 {
		writeError(w, http.StatusBadRequest, "no settings given")
		return
	}
	for key, value := range req {
		if !store.IsLedgerKey(key) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown setting: %s", key))
			return
		}
		if !ledger.ValidateSetting(key, value) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid value for %s", key))
			return
		}
	}

	ctx := r.Context()
	err := store.WithTx(ctx, h.db, func(tx *store.Tx) error {
		for key, value := range req {
			if err := tx.Settings.Set(ctx, key, value); err != nil {
				return err
			}
		}
		return checkTopupBounds(ctx, tx.Settings)
	})
	if errors.Is(err, errTopupBounds) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("update settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	h.logger.Info("settings updated", "admin", auth.AccountID(ctx), "keys", len(req))
	h.broadcast(websocket.NewMessage("settings", "updated", 0, nil))
	h.GetSettings(w, r)
}

var errTopupBounds = errors.New("topup_min_amount must not exceed topup_max_amount")

func checkTopupBounds(ctx context.Context, settings *store.SettingsStore) error {
	minRaw, err := settings.Get(ctx, ledger.KeyTopupMinAmount)
	if err != nil {
		return nil
	}
	maxRaw, err := settings.Get(ctx, ledger.KeyTopupMaxAmount)
	if err != nil {
		return nil
	}
	lo, err1 := decimal.NewFromString(minRaw)
	hi, err2 := decimal.NewFromString(maxRaw)
	if err1 == nil && err2 == nil && lo.GreaterThan(hi) {
		return errTopupBounds
	}
	return nil
}

func (h *AdminHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.backups.List(r.Context(), 50)
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  h.backups.Status(),
		"backups": backups,
	})
}

func (h *AdminHandler) RunBackup(w http.ResponseWriter, r *http.Request) {
	b, err := h.backups.RunNow(r.Context())
	switch {
	case errors.Is(err, backup.ErrNotConfigured):
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	case errors.Is(err, backup.ErrInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("run backup", "error", err)
		writeError(w, http.StatusBadGateway, "backup failed")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// DownloadBackup streams the encrypted snapshot as stored.
func (h *AdminHandler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	body, record, err := h.backups.Download(r.Context(), id)
	switch {
	case errors.Is(err, backup.ErrNotConfigured):
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	case errors.Is(err, backup.ErrBackupNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		h.logger.Error("download backup", "backup", id, "error", err)
		writeError(w, http.StatusBadGateway, "download failed")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, record.Filename))
	if record.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(record.SizeBytes, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream backup", "backup", id, "error", err)
	}
}
