package auth

import (
	"context"
	"testing"

	"github.com/dukerupert/sharepool/internal/model"
)

func TestWithIdentityAndFromContext(t *testing.T) {
	ctx := WithIdentity(context.Background(), Identity{AccountID: 12, Role: model.RoleUser})

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected Identity in context")
	}
	if got.AccountID != 12 {
		t.Errorf("AccountID = %d, want 12", got.AccountID)
	}
	if got.Role != model.RoleUser {
		t.Errorf("Role = %q, want %q", got.Role, model.RoleUser)
	}
}

func TestFromContextMissing(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("expected false for missing Identity")
	}
	if AccountID(context.Background()) != 0 {
		t.Error("expected 0 for missing context")
	}
}

func TestIsAdmin(t *testing.T) {
	tests := []struct {
		ctx  context.Context
		want bool
	}{
		{WithIdentity(context.Background(), Identity{AccountID: 1, Role: model.RoleAdmin}), true},
		{WithIdentity(context.Background(), Identity{AccountID: 2, Role: model.RoleUser}), false},
		{context.Background(), false},
	}
	for i, tt := range tests {
		if got := IsAdmin(tt.ctx); got != tt.want {
			t.Errorf("case %d: IsAdmin = %v, want %v", i, got, tt.want)
		}
	}
}
