package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/dukerupert/sharepool/internal/model"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrEmailExists        = errors.New("email already registered")
)

const minPasswordLength = 8

// AccountStorage is the subset of the account store the authenticator needs.
type AccountStorage interface {
	Create(ctx context.Context, email, displayName, passwordHash, role string) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
}

// Authenticator registers and logs in accounts with bcrypt password hashes.
type Authenticator struct {
	accounts AccountStorage
}

func NewAuthenticator(accounts AccountStorage) *Authenticator {
	return &Authenticator{accounts: accounts}
}

func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Register creates a user account. Admin accounts are never created here.
func (a *Authenticator) Register(ctx context.Context, email, displayName, password string) (*model.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}

	existing, err := a.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	account, err := a.accounts.Create(ctx, email, displayName, hash, model.RoleUser)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// Authenticate returns the account for a matching email and password.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*model.Account, error) {
	account, err := a.accounts.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if account == nil || !CheckPassword(account.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}
