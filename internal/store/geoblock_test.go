package store_test

import (
	"context"
	"sort"
	"testing"
)

func TestGeoBlock_DisabledByDefault(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	enabled, err := st.GeoIsEnabled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Fatal("geo-block should default to disabled")
	}
}

func TestGeoBlock_AddRemoveIsBlocked(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.GeoSetEnabled(ctx, true); err != nil {
		t.Fatal(err)
	}
	if err := st.GeoAdd(ctx, "kp"); err != nil {
		t.Fatal(err)
	}
	blocked, err := st.GeoIsBlocked(ctx, "KP")
	if err != nil {
		t.Fatal(err)
	}
	if !blocked {
		t.Fatal("KP should be blocked (case-insensitive add)")
	}

	if err := st.GeoRemove(ctx, "KP"); err != nil {
		t.Fatal(err)
	}
	blocked, err = st.GeoIsBlocked(ctx, "KP")
	if err != nil {
		t.Fatal(err)
	}
	if blocked {
		t.Fatal("KP should no longer be blocked after removal")
	}
}

func TestGeoBlock_ReplaceAll(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.GeoAdd(ctx, "US"); err != nil {
		t.Fatal(err)
	}
	if err := st.GeoReplaceAll(ctx, []string{"ir", "kp", "sy"}); err != nil {
		t.Fatal(err)
	}
	codes, err := st.GeoList(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(codes)
	want := []string{"IR", "KP", "SY"}
	if len(codes) != len(want) {
		t.Fatalf("want %v, got %v", want, codes)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("want %v, got %v", want, codes)
		}
	}
}
