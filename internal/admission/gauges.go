package admission

import (
	"context"
	"time"

	"github.com/rishisurf/erads/internal/store"
	"github.com/rishisurf/erads/pkg/metrics"
)

// RefreshGauges sets the active-ban and active-key gauges from a full
// scan of the store. Call on a ticker (e.g. every 15-30s) rather than
// incrementing ad hoc, so the numbers reflect current store state
// even across process restarts.
func RefreshGauges(ctx context.Context, st *store.Store) error {
	bans, err := st.ListActiveBans(ctx, 0, 0)
	if err != nil {
		return err
	}
	metrics.ActiveBans.Set(float64(len(bans)))

	n, err := st.CountActiveApiKeys(ctx)
	if err != nil {
		return err
	}
	metrics.ActiveApiKeys.Set(float64(n))

	if n, err := st.TorExitCount(ctx); err == nil {
		metrics.TorExitCount.Set(float64(n))
	}
	return nil
}

// RunGaugeRefresher blocks, refreshing gauges on every tick until ctx
// is canceled. Meant to be launched in its own goroutine.
func RunGaugeRefresher(ctx context.Context, st *store.Store, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = RefreshGauges(ctx, st)
		}
	}
}
