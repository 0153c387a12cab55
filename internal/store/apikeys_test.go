package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/rishisurf/erads/internal/apierr"
)

func TestApiKey_CreateLookupPlaintextNeverPersisted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	key, plaintext, err := st.CreateApiKey(ctx, "service-a", 100, 60, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if plaintext == "" {
		t.Fatal("expected a plaintext token on creation")
	}
	if key.KeyFingerprint == plaintext {
		t.Fatal("fingerprint must not equal the plaintext")
	}

	found, err := st.LookupApiKey(ctx, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.ID != key.ID {
		t.Fatalf("expected lookup to resolve the same key, got %+v", found)
	}
	if found.LastUsedAt == nil {
		t.Fatal("lookup should stamp last_used_at")
	}

	if _, err := st.LookupApiKey(ctx, "not-a-real-token"); err != nil {
		t.Fatal(err)
	}
}

func TestApiKey_RejectsInvalidInput(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, _, err := st.CreateApiKey(ctx, "", 100, 60, nil, nil); apierr.KindOf(err) != apierr.Validation {
		t.Fatalf("empty name should be a validation error, got %v", err)
	}
	if _, _, err := st.CreateApiKey(ctx, "ok", 0, 60, nil, nil); apierr.KindOf(err) != apierr.Validation {
		t.Fatalf("limit<1 should be a validation error, got %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if _, _, err := st.CreateApiKey(ctx, "ok", 10, 60, &past, nil); apierr.KindOf(err) != apierr.Validation {
		t.Fatalf("past expires_at should be a validation error, got %v", err)
	}
}

func TestApiKey_RotateInvalidatesOldTokenKeepsID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	key, oldPlaintext, err := st.CreateApiKey(ctx, "svc", 10, 60, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, newPlaintext, err := st.RotateApiKey(ctx, key.ID)
	if err != nil {
		t.Fatal(err)
	}
	if newPlaintext == oldPlaintext {
		t.Fatal("rotation should issue new key material")
	}
	if found, _ := st.LookupApiKey(ctx, oldPlaintext); found != nil {
		t.Fatal("old plaintext should no longer resolve after rotation")
	}
	if found, err := st.LookupApiKey(ctx, newPlaintext); err != nil || found == nil || found.ID != key.ID {
		t.Fatalf("new plaintext should resolve to the same key id, got %+v, err=%v", found, err)
	}
}

func TestApiKey_DeactivateBlocksLookup(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	key, plaintext, err := st.CreateApiKey(ctx, "svc", 10, 60, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.DeactivateApiKey(ctx, key.ID); err != nil {
		t.Fatal(err)
	}
	if found, _ := st.LookupApiKey(ctx, plaintext); found != nil {
		t.Fatal("deactivated key should not resolve")
	}
}

func TestApiKey_CountActiveApiKeys(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := st.CreateApiKey(ctx, "svc", 10, 60, nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	key, _, err := st.CreateApiKey(ctx, "to-deactivate", 10, 60, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.DeactivateApiKey(ctx, key.ID); err != nil {
		t.Fatal(err)
	}

	n, err := st.CountActiveApiKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("want 3 active keys, got %d", n)
	}
}
