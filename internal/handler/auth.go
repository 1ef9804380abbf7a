package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/sharepool/internal/auth"
	"github.com/dukerupert/sharepool/internal/model"
	"github.com/dukerupert/sharepool/internal/store"
)

type AuthHandler struct {
	authenticator *auth.Authenticator
	tokens        *auth.TokenManager
	accounts      *store.AccountStore
	logger        *slog.Logger
}

func NewAuthHandler(a *auth.Authenticator, tokens *auth.TokenManager, accounts *store.AccountStore, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{authenticator: a, tokens: tokens, accounts: accounts, logger: logger}
}

type tokenResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Account   *model.Account `json:"account"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.authenticator.Register(r.Context(), req.Email, req.DisplayName, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrEmailExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("register account", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	h.logger.Info("account registered", "account", account.ID)
	h.issue(w, http.StatusCreated, account)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.authenticator.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	h.issue(w, http.StatusOK, account)
}

func (h *AuthHandler) issue(w http.ResponseWriter, status int, account *model.Account) {
	token, expires, err := h.tokens.Generate(auth.Identity{AccountID: account.ID, Role: account.Role})
	if err != nil {
		h.logger.Error("issue token", "account", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, ExpiresAt: expires, Account: account})
}

// Me returns the caller's account, balance included.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.GetByID(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		h.logger.Error("get account", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get account")
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, account)
}
