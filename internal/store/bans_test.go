package store_test

import (
	"context"
	"testing"
	"time"
)

func TestBan_CreateAndIsBanned(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if b, err := st.IsBanned(ctx, "1.2.3.4"); err != nil || b != nil {
		t.Fatalf("expected no ban initially, got %+v, err=%v", b, err)
	}

	ban, err := st.CreateBan(ctx, "1.2.3.4", "abuse", nil, "operator")
	if err != nil {
		t.Fatal(err)
	}
	if ban.ExpiresAt != nil {
		t.Fatal("nil duration should create a permanent ban")
	}

	active, err := st.IsBanned(ctx, "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.ID != ban.ID {
		t.Fatalf("expected active ban %d, got %+v", ban.ID, active)
	}
}

func TestBan_ExpiresAfterDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st, advance := newTestClock(t, start)
	ctx := context.Background()

	seconds := int64(60)
	if _, err := st.CreateBan(ctx, "5.6.7.8", "burst", &seconds, "system"); err != nil {
		t.Fatal(err)
	}
	if b, err := st.IsBanned(ctx, "5.6.7.8"); err != nil || b == nil {
		t.Fatalf("expected active ban, got %+v, err=%v", b, err)
	}

	advance(start.Add(61 * time.Second))
	if b, err := st.IsBanned(ctx, "5.6.7.8"); err != nil || b != nil {
		t.Fatalf("expected ban to have expired, got %+v, err=%v", b, err)
	}
}

func TestBan_RemoveAllBans(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.CreateBan(ctx, "9.9.9.9", "test", nil, "operator"); err != nil {
		t.Fatal(err)
	}
	if err := st.RemoveAllBans(ctx, "9.9.9.9"); err != nil {
		t.Fatal(err)
	}
	if b, err := st.IsBanned(ctx, "9.9.9.9"); err != nil || b != nil {
		t.Fatalf("expected ban removed, got %+v, err=%v", b, err)
	}
}

func TestBan_CreateAutoBan_DefaultsDuration(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ban, err := st.CreateAutoBan(ctx, "10.0.0.1", "burst detected", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ban.ExpiresAt == nil {
		t.Fatal("auto-ban with nil duration should still default to a timed ban")
	}
	if ban.CreatedBy != "system" {
		t.Fatalf("want created_by=system, got %q", ban.CreatedBy)
	}
}

func TestBan_ListActiveBans(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := st.CreateBan(ctx, id, "test", nil, "operator"); err != nil {
			t.Fatal(err)
		}
	}
	bans, err := st.ListActiveBans(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(bans) != 3 {
		t.Fatalf("want 3 active bans, got %d", len(bans))
	}
}
