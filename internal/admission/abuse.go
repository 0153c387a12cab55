package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rishisurf/erads/internal/store"
	"github.com/rishisurf/erads/pkg/metrics"
)

// AbuseConfig tunes the two auto-ban rules: an absolute burst
// threshold and a baseline-relative spike threshold.
type AbuseConfig struct {
	BurstThreshold     int64
	BurstWindowSeconds int64
	BurstMultiplier    float64
	AutoBanSeconds     int64
	BaselinePeriodMins int64
}

func (c AbuseConfig) withDefaults() AbuseConfig {
	if c.BurstThreshold <= 0 {
		c.BurstThreshold = 50
	}
	if c.BurstWindowSeconds <= 0 {
		c.BurstWindowSeconds = 10
	}
	if c.BurstMultiplier <= 0 {
		c.BurstMultiplier = 5
	}
	if c.AutoBanSeconds <= 0 {
		c.AutoBanSeconds = 3600
	}
	if c.BaselinePeriodMins <= 0 {
		c.BaselinePeriodMins = 60
	}
	return c
}

// AbuseDetector watches request volume per identifier and auto-bans on
// either an absolute burst or a spike relative to the rolling baseline.
type AbuseDetector struct {
	store *store.Store
	cfg   AbuseConfig
	log   zerolog.Logger
}

func NewAbuseDetector(st *store.Store, cfg AbuseConfig, log zerolog.Logger) *AbuseDetector {
	return &AbuseDetector{store: st, cfg: cfg.withDefaults(), log: log.With().Str("component", "abuse_detector").Logger()}
}

// Check inspects identifier's recent traffic and fires an auto-ban
// when either rule trips. It never returns an error to the caller: a
// failure creating the ban is logged and treated as "did not fire".
func (d *AbuseDetector) Check(ctx context.Context, identifier string) (fired bool, reason string) {
	current, err := d.store.CountInWindow(ctx, identifier, d.cfg.BurstWindowSeconds)
	if err != nil {
		return false, ""
	}

	if current >= d.cfg.BurstThreshold {
		reason = fmt.Sprintf("Burst detection: %d requests in %ds", current, d.cfg.BurstWindowSeconds)
		return d.fire(ctx, identifier, "burst", reason)
	}

	baseline, err := d.store.BaselineRatePerMinute(ctx, identifier, d.cfg.BaselinePeriodMins)
	if err != nil || baseline <= 0 {
		return false, ""
	}
	currentRate := float64(current) / (float64(d.cfg.BurstWindowSeconds) / 60.0)
	if currentRate > baseline*d.cfg.BurstMultiplier {
		reason = fmt.Sprintf("Baseline spike: %.2f req/min vs baseline %.2f req/min", currentRate, baseline)
		return d.fire(ctx, identifier, "baseline", reason)
	}

	return false, ""
}

func (d *AbuseDetector) fire(ctx context.Context, identifier, rule, reason string) (bool, string) {
	seconds := d.cfg.AutoBanSeconds
	if _, err := d.store.CreateAutoBan(ctx, identifier, reason, &seconds); err != nil {
		d.log.Error().Err(err).Str("identifier", identifier).Msg("failed to create auto-ban")
		return false, ""
	}
	metrics.AutoBansTotal.WithLabelValues(rule).Inc()
	d.log.Warn().Str("identifier", identifier).Str("reason", reason).
		Dur("duration", time.Duration(seconds)*time.Second).Msg("auto-ban fired")
	return true, reason
}
