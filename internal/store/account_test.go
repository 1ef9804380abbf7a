package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dukerupert/sharepool/internal/model"
)

func TestAccountCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	as := NewAccountStore(setupTestDB(t))

	a, err := as.Create(ctx, " Alice@Example.com ", "Alice", "hash", model.RoleUser)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if a.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", a.Email, "alice@example.com")
	}
	if !a.Balance.IsZero() {
		t.Errorf("balance = %s, want 0", a.Balance)
	}

	got, err := as.GetByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got == nil || got.ID != a.ID {
		t.Fatalf("get by email = %+v, want id %d", got, a.ID)
	}

	missing, err := as.GetByID(ctx, 9999)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing account")
	}
}

func TestAccountAdjust(t *testing.T) {
	ctx := context.Background()
	as := NewAccountStore(setupTestDB(t))

	a, _ := as.Create(ctx, "bob@example.com", "Bob", "", model.RoleUser)

	bal, err := as.Adjust(ctx, a.ID, 5000)
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if bal != 5000 {
		t.Errorf("balance = %d, want 5000", bal)
	}

	bal, err = as.Adjust(ctx, a.ID, -4800)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if bal != 200 {
		t.Errorf("balance = %d, want 200", bal)
	}

	if _, err := as.Adjust(ctx, a.ID, -201); !errors.Is(err, ErrBalanceGuard) {
		t.Errorf("overdraw err = %v, want ErrBalanceGuard", err)
	}
	cents, _ := as.BalanceCents(ctx, a.ID)
	if cents != 200 {
		t.Errorf("balance after rejected debit = %d, want 200", cents)
	}

	if _, err := as.Adjust(ctx, 9999, 100); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("missing account err = %v, want ErrAccountNotFound", err)
	}
}

func TestAccountAdjustConcurrentDebits(t *testing.T) {
	ctx := context.Background()
	as := NewAccountStore(setupTestDB(t))

	a, _ := as.Create(ctx, "carol@example.com", "Carol", "", model.RoleUser)
	if _, err := as.Adjust(ctx, a.ID, 1000); err != nil {
		t.Fatalf("fund: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := as.Adjust(ctx, a.ID, -100); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("successful debits = %d, want 10", succeeded)
	}
	cents, _ := as.BalanceCents(ctx, a.ID)
	if cents != 0 {
		t.Errorf("final balance = %d, want 0", cents)
	}
}

func TestWithTxRollback(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	as := NewAccountStore(db)
	a, _ := as.Create(ctx, "dan@example.com", "Dan", "", model.RoleUser)

	boom := errors.New("boom")
	err := WithTx(ctx, db, func(tx *Tx) error {
		if _, err := tx.Accounts.Adjust(ctx, a.ID, 700); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	cents, _ := as.BalanceCents(ctx, a.ID)
	if cents != 0 {
		t.Errorf("balance after rollback = %d, want 0", cents)
	}
}

func TestAccountSetPasswordAndEmail(t *testing.T) {
	ctx := context.Background()
	as := NewAccountStore(setupTestDB(t))

	if err := as.SetPassword(ctx, model.PlatformAccountID, "bcrypt-hash"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if err := as.SetEmail(ctx, model.PlatformAccountID, " Ops@Example.com"); err != nil {
		t.Fatalf("set email: %v", err)
	}

	got, err := as.GetByID(ctx, model.PlatformAccountID)
	if err != nil {
		t.Fatalf("get platform account: %v", err)
	}
	if got.PasswordHash != "bcrypt-hash" {
		t.Errorf("password hash = %q, want %q", got.PasswordHash, "bcrypt-hash")
	}
	if got.Email != "ops@example.com" {
		t.Errorf("email = %q, want %q", got.Email, "ops@example.com")
	}
}
