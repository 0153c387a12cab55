package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/rishisurf/erads/internal/store"
)

func TestReputation_UpsertAndGetRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := store.ReputationRecord{Address: "1.2.3.4", Proxy: true, Confidence: 90, Source: "manual"}
	if err := st.UpsertReputation(ctx, rec, time.Hour); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetReputation(ctx, "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.Proxy || got.Confidence != 90 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestReputation_ExpiresAfterTTL(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st, advance := newTestClock(t, start)
	ctx := context.Background()

	if err := st.UpsertReputation(ctx, store.ReputationRecord{Address: "1.1.1.1"}, time.Minute); err != nil {
		t.Fatal(err)
	}
	advance(start.Add(2 * time.Minute))
	got, err := st.GetReputation(ctx, "1.1.1.1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected expired record to read as absent, got %+v", got)
	}
}

func TestAsn_UpsertAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := store.AsnRecord{ASN: 16509, OrgName: "Amazon", IsHosting: true}
	if err := st.UpsertAsn(ctx, rec, 0); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetAsn(ctx, 16509)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.IsHosting || got.OrgName != "Amazon" {
		t.Fatalf("unexpected asn record: %+v", got)
	}
}

func TestManualBlock_AddressAddAndRemove(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.AddManualBlock(ctx, store.ManualBlockEntry{
		Identifier: "6.6.6.6", Kind: "address", Reason: "known attacker", BlockedBy: "operator",
	})
	if err != nil {
		t.Fatal(err)
	}
	entry, err := st.GetManualBlock(ctx, "6.6.6.6", "address")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.Reason != "known attacker" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	if err := st.RemoveManualBlock(ctx, "6.6.6.6", "address"); err != nil {
		t.Fatal(err)
	}
	entry, err = st.GetManualBlock(ctx, "6.6.6.6", "address")
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Fatal("expected entry to be removed")
	}
}

func TestManualBlock_CIDRTracksActiveRanges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.AddManualBlock(ctx, store.ManualBlockEntry{Identifier: "10.0.0.0/8", Kind: "cidr", Reason: "internal range"}); err != nil {
		t.Fatal(err)
	}
	cidrs, err := st.ActiveCidrBlocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cidrs) != 1 || cidrs[0] != "10.0.0.0/8" {
		t.Fatalf("want [10.0.0.0/8], got %v", cidrs)
	}

	if err := st.RemoveManualBlock(ctx, "10.0.0.0/8", "cidr"); err != nil {
		t.Fatal(err)
	}
	cidrs, err = st.ActiveCidrBlocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cidrs) != 0 {
		t.Fatalf("want no active cidrs, got %v", cidrs)
	}
}

func TestTorExits_SyncIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addrs := []string{"1.1.1.1", "2.2.2.2"}
	if err := st.SyncTorExits(ctx, addrs); err != nil {
		t.Fatal(err)
	}
	if err := st.SyncTorExits(ctx, addrs); err != nil {
		t.Fatal(err)
	}
	n, err := st.TorExitCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("want 2 distinct exits after re-sync, got %d", n)
	}
	isExit, err := st.IsTorExit(ctx, "1.1.1.1")
	if err != nil {
		t.Fatal(err)
	}
	if !isExit {
		t.Fatal("expected 1.1.1.1 to be a known exit")
	}
}

func TestStats_IncrementAndAggregate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.IncrementStat(ctx, "check", 1); err != nil {
			t.Fatal(err)
		}
	}
	agg, err := st.AggregateStats(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if agg["check"] != 3 {
		t.Fatalf("want check=3, got %v", agg)
	}
}
