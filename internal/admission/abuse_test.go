package admission_test

import (
	"context"
	"testing"

	"github.com/rishisurf/erads/internal/admission"
	"github.com/rishisurf/erads/internal/store"
)

func TestAbuseDetector_FiresOnBurstThreshold(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := admission.NewAbuseDetector(st, admission.AbuseConfig{
		BurstThreshold: 3, BurstWindowSeconds: 10, AutoBanSeconds: 60,
		BurstMultiplier: 1000, // keep the baseline-spike rule out of the way
	}, testLogger())

	for i := 0; i < 2; i++ {
		if err := st.Log(ctx, store.LogEntry{Identifier: "attacker", Allowed: true}); err != nil {
			t.Fatal(err)
		}
	}
	if fired, _ := d.Check(ctx, "attacker"); fired {
		t.Fatal("2 requests should not trip a threshold of 3")
	}

	if err := st.Log(ctx, store.LogEntry{Identifier: "attacker", Allowed: true}); err != nil {
		t.Fatal(err)
	}
	fired, reason := d.Check(ctx, "attacker")
	if !fired {
		t.Fatal("3rd request within the burst window should trip the threshold")
	}
	if reason == "" {
		t.Fatal("expected a non-empty reason on fire")
	}

	ban, err := st.IsBanned(ctx, "attacker")
	if err != nil {
		t.Fatal(err)
	}
	if ban == nil {
		t.Fatal("a fired burst rule should auto-ban the identifier")
	}
}

func TestAbuseDetector_DoesNotFireBelowThreshold(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := admission.NewAbuseDetector(st, admission.AbuseConfig{
		BurstThreshold: 50, BurstWindowSeconds: 10, BurstMultiplier: 1000,
	}, testLogger())

	if err := st.Log(ctx, store.LogEntry{Identifier: "ok-client", Allowed: true}); err != nil {
		t.Fatal(err)
	}
	if fired, _ := d.Check(ctx, "ok-client"); fired {
		t.Fatal("single request must not trip a burst rule")
	}
}

func TestAbuseDetector_FiresOnBaselineSpike(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := admission.NewAbuseDetector(st, admission.AbuseConfig{
		BurstThreshold:     1000, // keep the absolute burst rule out of the way
		BurstWindowSeconds: 60,
		BurstMultiplier:    2,
		BaselinePeriodMins: 60,
		AutoBanSeconds:     60,
	}, testLogger())

	for i := 0; i < 6; i++ {
		if err := st.Log(ctx, store.LogEntry{Identifier: "spiker", Allowed: true}); err != nil {
			t.Fatal(err)
		}
	}
	// A further burst of 20 requests, all inside the same 60s window the
	// baseline is also measured over: the burst-window rate comes out far
	// above the period-averaged baseline rate times the multiplier.
	for i := 0; i < 20; i++ {
		if err := st.Log(ctx, store.LogEntry{Identifier: "spiker", Allowed: true}); err != nil {
			t.Fatal(err)
		}
	}

	fired, reason := d.Check(ctx, "spiker")
	if !fired {
		t.Fatal("rate far above baseline*multiplier should trip the spike rule")
	}
	if reason == "" {
		t.Fatal("expected a non-empty reason on fire")
	}
}

func TestAbuseDetector_NoActivityNeverFires(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	d := admission.NewAbuseDetector(st, admission.AbuseConfig{
		BurstThreshold: 1000, BurstWindowSeconds: 10, BurstMultiplier: 2,
	}, testLogger())

	if fired, _ := d.Check(ctx, "never-seen"); fired {
		t.Fatal("an identifier with no logged requests must never fire")
	}
}
