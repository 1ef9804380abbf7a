package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/sharepool/internal/ledger"
	"github.com/dukerupert/sharepool/internal/money"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// pathID parses the {id} wildcard and writes a 400 when it is malformed.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseIDParam(r)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// writeLedgerError maps ledger errors to HTTP statuses. Infrastructure
// failures are logged and reported without detail.
func writeLedgerError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var insufficient *ledger.InsufficientFundsError
	if errors.As(err, &insufficient) {
		writeJSON(w, http.StatusPaymentRequired, map[string]string{
			"error":     "insufficient funds",
			"required":  money.Format(insufficient.Required),
			"available": money.Format(insufficient.Available),
		})
		return
	}

	switch {
	case errors.Is(err, ledger.ErrBelowMinimumDuration),
		errors.Is(err, ledger.ErrAboveMaximumDuration),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidListing):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrListingNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrSelfPurchaseForbidden),
		errors.Is(err, ledger.ErrAccessDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrListingUnavailable),
		errors.Is(err, ledger.ErrIdempotencyConflict),
		errors.Is(err, ledger.ErrTopupNotPending),
		errors.Is(err, ledger.ErrTopupNotCancellable),
		errors.Is(err, ledger.ErrNegativeBalance):
		writeError(w, http.StatusConflict, err.Error())
	case ledger.IsRetryable(err):
		logger.Error("ledger unavailable", "error", err)
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "ledger temporarily unavailable, retry")
	default:
		logger.Error("unexpected error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
