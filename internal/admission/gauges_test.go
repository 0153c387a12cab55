package admission_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rishisurf/erads/internal/admission"
	"github.com/rishisurf/erads/internal/store"
	"github.com/rishisurf/erads/pkg/metrics"
)

func TestRefreshGauges_ReflectsStoreState(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.CreateBan(ctx, "1.1.1.1", "test", nil, "operator"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateBan(ctx, "2.2.2.2", "test", nil, "operator"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.CreateApiKey(ctx, "svc", 10, 60, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := st.SyncTorExits(ctx, []string{"3.3.3.3"}); err != nil {
		t.Fatal(err)
	}

	if err := admission.RefreshGauges(ctx, st); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(metrics.ActiveBans); got != 2 {
		t.Fatalf("want active_bans=2, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveApiKeys); got != 1 {
		t.Fatalf("want active_api_keys=1, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.TorExitCount); got != 1 {
		t.Fatalf("want tor_exit_count=1, got %v", got)
	}
}
