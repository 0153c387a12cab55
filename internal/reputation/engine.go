// Package reputation classifies request origins (proxy/VPN/Tor/hosting/
// residential/unknown) using a layered pipeline: cache, manual blocks,
// the Tor exit set, an ASN heuristic, and external providers, in that
// order, falling back to an unknown verdict no layer can resolve.
package reputation

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/rishisurf/erads/internal/store"
	"github.com/rishisurf/erads/pkg/metrics"
)

const (
	TypeTor         = "tor"
	TypeVPN         = "vpn"
	TypeProxy       = "proxy"
	TypeHosting     = "hosting"
	TypeResidential = "residential"
	TypeUnknown     = "unknown"
)

// Classification is the Engine's verdict for a single address. Exactly
// one of the Type constants applies; callers branch on Type rather
// than inspecting booleans directly.
type Classification struct {
	Address    string
	Type       string
	Confidence int
	Reason     string
	Source     string
	ASN        int
	ASNOrg     string
	Country    string
	Cached     bool
}

const defaultIPTTL = time.Hour

// EngineConfig holds the engine's tunables.
type EngineConfig struct {
	IPTTL time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.IPTTL <= 0 {
		c.IPTTL = defaultIPTTL
	}
	return c
}

// Engine ties the store's caches/registries to the provider chain.
type Engine struct {
	store     *store.Store
	providers []Provider
	asnLookup *FreeASNProvider
	cfg       EngineConfig
	log       zerolog.Logger
}

func NewEngine(st *store.Store, asnLookup *FreeASNProvider, providers []Provider, cfg EngineConfig, log zerolog.Logger) *Engine {
	return &Engine{
		store:     st,
		providers: providers,
		asnLookup: asnLookup,
		cfg:       cfg.withDefaults(),
		log:       log.With().Str("component", "reputation_engine").Logger(),
	}
}

// Classify runs the layered pipeline for address. bypassCache skips
// the read (but not the write-through) of the cache layer.
func (e *Engine) Classify(ctx context.Context, address string, bypassCache bool) (Classification, error) {
	e.stat("check")

	if !bypassCache {
		if rec, err := e.store.GetReputation(ctx, address); err == nil && rec != nil {
			e.stat("cache_hit")
			metrics.ReputationCacheHits.Inc()
			c := recordToClassification(*rec, true)
			metrics.ClassificationsTotal.WithLabelValues(c.Type, "cache").Inc()
			return c, nil
		}
	}

	if c, ok := e.manualBlockAddress(ctx, address); ok {
		e.cacheAndLog(ctx, c)
		return c, nil
	}

	if c, ok := e.manualBlockCIDR(ctx, address); ok {
		e.cacheAndLog(ctx, c)
		return c, nil
	}

	if c, ok := e.torCheck(ctx, address); ok {
		e.cacheAndLog(ctx, c)
		return c, nil
	}

	if c, ok := e.asnHeuristic(ctx, address); ok {
		e.cacheAndLog(ctx, c)
		return c, nil
	}

	if c, ok := e.providerChain(ctx, address); ok {
		e.cacheAndLog(ctx, c)
		return c, nil
	}

	fallback := Classification{
		Address:    address,
		Type:       TypeUnknown,
		Confidence: 30,
		Reason:     "no signal from any layer",
		Source:     "heuristic",
	}
	e.cacheAndLog(ctx, fallback)
	return fallback, nil
}

func (e *Engine) manualBlockAddress(ctx context.Context, address string) (Classification, bool) {
	entry, err := e.store.GetManualBlock(ctx, address, "address")
	if err != nil || entry == nil {
		return Classification{}, false
	}
	return Classification{
		Address:    address,
		Type:       TypeProxy,
		Confidence: 100,
		Reason:     "manually blocked: " + entry.Reason,
		Source:     "manual",
	}, true
}

func (e *Engine) manualBlockCIDR(ctx context.Context, address string) (Classification, bool) {
	cidrs, err := e.store.ActiveCidrBlocks(ctx)
	if err != nil {
		return Classification{}, false
	}
	for _, cidr := range cidrs {
		if cidrMember(address, cidr) {
			return Classification{
				Address:    address,
				Type:       TypeProxy,
				Confidence: 100,
				Reason:     "matches blocked range " + cidr,
				Source:     "manual",
			}, true
		}
	}
	return Classification{}, false
}

func (e *Engine) torCheck(ctx context.Context, address string) (Classification, bool) {
	isTor, err := e.store.IsTorExit(ctx, address)
	if err != nil || !isTor {
		return Classification{}, false
	}
	return Classification{
		Address:    address,
		Type:       TypeTor,
		Confidence: 100,
		Reason:     "known tor exit node",
		Source:     "tor_list",
	}, true
}

func (e *Engine) asnHeuristic(ctx context.Context, address string) (Classification, bool) {
	if e.asnLookup == nil {
		return Classification{}, false
	}
	res, err := e.asnLookup.Check(ctx, address)
	if err != nil || res == nil || res.ASN == 0 {
		return Classification{}, false
	}
	if entry, err := e.store.GetManualBlock(ctx, strconv.Itoa(res.ASN), "asn"); err == nil && entry != nil {
		return Classification{
			Address: address, Type: TypeProxy, Confidence: 100,
			Reason: "manually blocked ASN: " + entry.Reason, Source: "manual",
			ASN: res.ASN, Country: res.Country,
		}, true
	}
	rec, err := e.store.GetAsn(ctx, res.ASN)
	if err != nil || rec == nil {
		return Classification{}, false
	}
	switch {
	case rec.IsHosting:
		return Classification{
			Address: address, Type: TypeHosting, Confidence: 85,
			Reason: "known hosting ASN " + rec.OrgName, Source: "asn",
			ASN: rec.ASN, ASNOrg: rec.OrgName, Country: res.Country,
		}, true
	case rec.IsVPN:
		return Classification{
			Address: address, Type: TypeVPN, Confidence: 85,
			Reason: "known VPN ASN " + rec.OrgName, Source: "asn",
			ASN: rec.ASN, ASNOrg: rec.OrgName, Country: res.Country,
		}, true
	}
	// Known ASN, but neither flagged hosting nor VPN: tentatively
	// residential. Low confidence since no provider has confirmed it.
	return Classification{
		Address: address, Type: TypeResidential, Confidence: 60,
		Reason: "ASN " + rec.OrgName + " not flagged hosting or VPN", Source: "asn",
		ASN: rec.ASN, ASNOrg: rec.OrgName, Country: res.Country,
	}, true
}

func (e *Engine) providerChain(ctx context.Context, address string) (Classification, bool) {
	for _, p := range e.providers {
		if !p.IsEnabled() {
			continue
		}
		res, err := p.Check(ctx, address)
		if err != nil || res == nil {
			continue
		}
		typ, reason := classifyResult(*res)
		if typ == "" {
			continue
		}
		return Classification{
			Address:    address,
			Type:       typ,
			Confidence: res.Confidence,
			Reason:     reason + " (" + p.Name() + ")",
			Source:     p.Name(),
			ASN:        res.ASN,
			ASNOrg:     res.ASNOrg,
			Country:    res.Country,
		}, true
	}
	return Classification{}, false
}

// classifyResult collapses a ProviderResult's flags into a single
// type, in priority order tor > vpn > proxy > hosting.
func classifyResult(r ProviderResult) (string, string) {
	switch {
	case r.IsTor:
		return TypeTor, "provider flagged tor"
	case r.IsVPN:
		return TypeVPN, "provider flagged vpn"
	case r.IsProxy:
		return TypeProxy, "provider flagged proxy"
	case r.IsHosting:
		return TypeHosting, "provider flagged hosting"
	default:
		return "", ""
	}
}

func (e *Engine) cacheAndLog(ctx context.Context, c Classification) {
	metrics.ClassificationsTotal.WithLabelValues(c.Type, c.Source).Inc()
	rec := classificationToRecord(c)
	if err := e.store.UpsertReputation(ctx, rec, e.cfg.IPTTL); err != nil {
		e.log.Warn().Err(err).Str("address", c.Address).Msg("failed to cache reputation verdict")
	}
	ev := e.log.Debug()
	if c.Type != TypeResidential && c.Type != TypeUnknown {
		ev = e.log.Warn()
	}
	ev.Str("address", c.Address).Str("type", c.Type).Str("source", c.Source).
		Int("confidence", c.Confidence).Msg("reputation classification")
}

func (e *Engine) stat(name string) {
	// best effort; a stats failure must never affect classification
	go func(n string) {
		_ = e.store.IncrementStat(context.Background(), n, 1)
	}(name)
}

func recordToClassification(rec store.ReputationRecord, cached bool) Classification {
	typ := TypeResidential
	switch {
	case rec.Tor:
		typ = TypeTor
	case rec.Proxy:
		typ = TypeProxy
	case rec.VPN:
		typ = TypeVPN
	case rec.Hosting:
		typ = TypeHosting
	case rec.Residential:
		typ = TypeResidential
	default:
		typ = TypeUnknown
	}
	asn := 0
	if rec.ASN != nil {
		asn = *rec.ASN
	}
	return Classification{
		Address:    rec.Address,
		Type:       typ,
		Confidence: rec.Confidence,
		Reason:     rec.Reason,
		Source:     rec.Source,
		ASN:        asn,
		ASNOrg:     rec.ASNOrg,
		Country:    rec.Country,
		Cached:     cached,
	}
}

func classificationToRecord(c Classification) store.ReputationRecord {
	rec := store.ReputationRecord{
		Address:    c.Address,
		Confidence: c.Confidence,
		Reason:     c.Reason,
		Source:     c.Source,
		ASNOrg:     c.ASNOrg,
		Country:    c.Country,
	}
	if c.ASN != 0 {
		asn := c.ASN
		rec.ASN = &asn
	}
	switch c.Type {
	case TypeTor:
		rec.Tor = true
	case TypeProxy:
		rec.Proxy = true
	case TypeVPN:
		rec.VPN = true
	case TypeHosting:
		rec.Hosting = true
	case TypeResidential:
		rec.Residential = true
	}
	return rec
}
