package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()

	if id := FromContext(ctx); id != nil {
		t.Fatalf("expected nil, got %+v", id)
	}

	identity := &Identity{
		APIKeyID:       uuid.New(),
		OrganizationID: uuid.New(),
		KeyPrefix:      "sk_1234",
	}
	ctx = NewContext(ctx, identity)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("expected identity, got nil")
	}
	if got.OrganizationID != identity.OrganizationID {
		t.Errorf("OrganizationID = %v, want %v", got.OrganizationID, identity.OrganizationID)
	}
	if got.KeyPrefix != "sk_1234" {
		t.Errorf("KeyPrefix = %q, want %q", got.KeyPrefix, "sk_1234")
	}
}
