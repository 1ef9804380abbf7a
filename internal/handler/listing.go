package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/sharepool/internal/auth"
	"github.com/dukerupert/sharepool/internal/ledger"
	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/store"
	"github.com/shopspring/decimal"
)

const maxIdempotencyKeyLength = 128

type ListingHandler struct {
	ledger   *ledger.Service
	listings *store.ListingStore
	grants   *store.GrantStore
	logger   *slog.Logger
}

func NewListingHandler(svc *ledger.Service, listings *store.ListingStore, grants *store.GrantStore, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{ledger: svc, listings: listings, grants: grants, logger: logger}
}

// List returns listings open for purchase.
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	listings, err := h.listings.ListPurchasable(r.Context())
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

func (h *ListingHandler) Mine(w http.ResponseWriter, r *http.Request) {
	listings, err := h.listings.ListByOwner(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.logger.Error("list own listings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		return
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

// Get returns one listing. Listings that are not purchasable are only
// visible to their owner and admins.
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	listing, err := h.listings.GetByID(ctx, id)
	if err != nil {
		h.logger.Error("get listing", "listing", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get listing")
		return
	}
	if listing == nil || (!listing.Purchasable() && listing.OwnerID != auth.AccountID(ctx) && !auth.IsAdmin(ctx)) {
		writeLedgerError(w, h.logger, ledger.ErrListingNotFound)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title        string          `json:"title"`
		ServiceName  string          `json:"service_name"`
		Description  string          `json:"description"`
		PricePerHour decimal.Decimal `json:"price_per_hour"`
		Username     string          `json:"username"`
		Password     string          `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	listing, err := h.ledger.CreateListing(r.Context(), ledger.NewListing{
		OwnerID:      auth.AccountID(r.Context()),
		Title:        req.Title,
		ServiceName:  req.ServiceName,
		Description:  req.Description,
		PricePerHour: req.PricePerHour,
		Username:     req.Username,
		Password:     req.Password,
	})
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

func (h *ListingHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	listing, err := h.ledger.DeactivateListing(r.Context(), auth.AccountID(r.Context()), id)
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// Purchase settles timed access to a listing. Clients should send an
// Idempotency-Key header so a retried request never charges twice.
func (h *ListingHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Hours int `json:"hours"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Hours <= 0 {
		writeError(w, http.StatusBadRequest, "hours must be a positive integer")
		return
	}
	if req.Hours > ledger.MaxPurchaseHours {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("hours must not exceed %d", ledger.MaxPurchaseHours))
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(key) > maxIdempotencyKeyLength {
		writeError(w, http.StatusBadRequest, "Idempotency-Key is too long")
		return
	}

	purchase, err := h.ledger.PurchaseAccess(r.Context(), ledger.PurchaseRequest{
		BuyerID:        auth.AccountID(r.Context()),
		ListingID:      id,
		Hours:          req.Hours,
		IdempotencyKey: key,
	})
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if purchase.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, purchase)
}

func (h *ListingHandler) Credentials(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	creds, err := h.ledger.FetchCredentials(r.Context(), auth.AccountID(r.Context()), id)
	if err != nil {
		writeLedgerError(w, h.logger, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, creds)
}

// Grants lists the caller's purchases.
func (h *ListingHandler) Grants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.grants.ListByBuyer(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.logger.Error("list grants", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list grants")
		return
	}
	if grants == nil {
		grants = []model.Grant{}
	}
	writeJSON(w, http.StatusOK, grants)
}
