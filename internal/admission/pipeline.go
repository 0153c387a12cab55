// Package admission implements the layered request-admission decision:
// ban, geo-block, API-key validation, rate limit, and burst/abuse
// detection, in that order, over a shared store.
package admission

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rishisurf/erads/internal/store"
	"github.com/rishisurf/erads/pkg/metrics"
)

const (
	ReasonOK          = "ok"
	ReasonRateLimited = "rate_limited"
	ReasonBanned      = "banned"
	ReasonGeoBlocked  = "geo_blocked"
	ReasonInvalidKey  = "invalid_key"
	ReasonExpiredKey  = "expired_key"
)

// Envelope is the per-request metadata the caller supplies. Deriving
// Address from proxy headers (cf-connecting-ip, x-forwarded-for,
// x-real-ip) is the transport's job, not this package's.
type Envelope struct {
	Address   string
	ApiKey    string
	Path      string
	Method    string
	Country   string
	UserAgent string
}

// Decision is the outcome of a single Check call.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason"`
	Remaining  int64  `json:"remaining"`
	ResetAt    int64  `json:"reset_at"`
	Limit      int64  `json:"limit,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// PipelineConfig carries the global defaults used when no API key
// overrides them.
type PipelineConfig struct {
	DefaultLimit         int64
	DefaultWindowSeconds int64
	Sliding              bool
	LogAllRequests       bool
}

// Pipeline is the top-level admission gate.
type Pipeline struct {
	store *store.Store
	abuse *AbuseDetector
	cfg   PipelineConfig
	log   zerolog.Logger
}

func NewPipeline(st *store.Store, abuse *AbuseDetector, cfg PipelineConfig, log zerolog.Logger) *Pipeline {
	return &Pipeline{store: st, abuse: abuse, cfg: cfg, log: log.With().Str("component", "admission_pipeline").Logger()}
}

// Check runs the full admission algorithm. Any unexpected store error
// mid-pipeline is swallowed here and converted to a fail-open
// decision; availability of the guarded workload wins over a false
// denial under infrastructure degradation.
func (p *Pipeline) Check(ctx context.Context, env Envelope) Decision {
	d, err := p.check(ctx, env)
	if err != nil {
		p.log.Error().Err(err).Msg("admission check failed, failing open")
		return Decision{Allowed: true, Reason: ReasonOK}
	}
	return d
}

func (p *Pipeline) check(ctx context.Context, env Envelope) (Decision, error) {
	if env.Address == "" && env.ApiKey == "" {
		return Decision{Allowed: false, Reason: ReasonInvalidKey}, nil
	}

	// identifier never holds a plaintext bearer token: until a key
	// resolves to its id below, a key-only request is tracked under its
	// fingerprint so bans, rate limits, and the request log never touch
	// persistent storage with the raw key material.
	identifier := env.Address
	if identifier == "" {
		identifier = store.FingerprintApiKey(env.ApiKey)
	}

	ban, err := p.store.IsBanned(ctx, identifier)
	if err != nil {
		return Decision{}, err
	}
	if ban != nil {
		d := Decision{Allowed: false, Reason: ReasonBanned}
		if ban.ExpiresAt != nil {
			d.RetryAfter = int64(ban.ExpiresAt.Sub(p.now()).Seconds())
		}
		p.logDecision(ctx, env, identifier, d)
		return d, nil
	}

	if env.Country != "" {
		geoEnabled, err := p.store.GeoIsEnabled(ctx)
		if err != nil {
			return Decision{}, err
		}
		if geoEnabled {
			blocked, err := p.store.GeoIsBlocked(ctx, env.Country)
			if err != nil {
				return Decision{}, err
			}
			if blocked {
				d := Decision{Allowed: false, Reason: ReasonGeoBlocked}
				p.logDecision(ctx, env, identifier, d)
				return d, nil
			}
		}
	}

	cfg := store.CounterConfig{Limit: p.cfg.DefaultLimit, WindowSeconds: p.cfg.DefaultWindowSeconds, Sliding: p.cfg.Sliding}
	if env.ApiKey != "" {
		key, err := p.store.LookupApiKey(ctx, env.ApiKey)
		if err != nil {
			return Decision{}, err
		}
		if key == nil {
			d := Decision{Allowed: false, Reason: ReasonInvalidKey}
			p.logDecision(ctx, env, identifier, d)
			return d, nil
		}
		if key.IsExpired(p.now()) {
			d := Decision{Allowed: false, Reason: ReasonExpiredKey}
			p.logDecision(ctx, env, identifier, d)
			return d, nil
		}
		cfg = store.CounterConfig{Limit: key.Limit, WindowSeconds: key.WindowSeconds, Sliding: p.cfg.Sliding}
		identifier = key.ID
	}

	res := p.store.CheckCounter(ctx, identifier, cfg)
	d := Decision{
		Allowed:   res.Allowed,
		Remaining: res.Remaining,
		ResetAt:   res.ResetAt.Unix(),
		Limit:     res.Limit,
	}
	if !res.Allowed {
		d.Reason = ReasonRateLimited
		d.RetryAfter = int64(res.ResetAt.Sub(p.now()).Seconds())
		p.logDecision(ctx, env, identifier, d)
		return d, nil
	}

	if p.abuse != nil {
		if fired, _ := p.abuse.Check(ctx, identifier); fired {
			d.Allowed = false
			d.Reason = ReasonBanned
			d.Remaining = 0
			p.logDecision(ctx, env, identifier, d)
			return d, nil
		}
	}

	d.Reason = ReasonOK
	p.logDecision(ctx, env, identifier, d)
	return d, nil
}

// logDecision writes the audit entry under the already-resolved
// identifier (the API key's ID once a key is validated, never the
// plaintext bearer token) so it lines up with the key used by
// CheckCounter/abuse.Check and never persists key material.
func (p *Pipeline) logDecision(ctx context.Context, env Envelope, identifier string, d Decision) {
	metrics.AdmissionDecisions.WithLabelValues(d.Reason).Inc()
	if d.Allowed && !p.cfg.LogAllRequests {
		return
	}
	entry := store.LogEntry{
		Identifier: identifier,
		Path:       env.Path,
		Method:     env.Method,
		Allowed:    d.Allowed,
		Reason:     d.Reason,
		Country:    env.Country,
		UserAgent:  env.UserAgent,
		Timestamp:  p.now(),
	}
	if err := p.store.Log(ctx, entry); err != nil {
		p.log.Warn().Err(err).Msg("failed to write request log")
	}
}

func (p *Pipeline) now() time.Time { return p.store.Now() }
