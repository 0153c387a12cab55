// Package config loads erads' policy file: server/redis wiring, the
// default rate-limit policy, abuse-detector thresholds, reputation
// provider credentials, the Tor-list fetcher, and the geo-block seed
// list.
package config

import (
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Server struct {
	Addr string `yaml:"addr"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
}

// RateLimit is the global default policy; an API key may override
// limit/window_seconds per-key.
type RateLimit struct {
	Limit          int64 `yaml:"limit"`
	WindowSeconds  int64 `yaml:"window_seconds"`
	Sliding        bool  `yaml:"sliding"`
	LogAllRequests bool  `yaml:"log_all_requests"`
}

// Abuse tunes the burst/baseline auto-ban detector.
type Abuse struct {
	BurstThreshold     int64   `yaml:"burst_threshold"`
	BurstWindowSeconds int64   `yaml:"burst_window_seconds"`
	BurstMultiplier    float64 `yaml:"burst_multiplier"`
	AutoBanSeconds     int64   `yaml:"auto_ban_seconds"`
	BaselinePeriodMins int64   `yaml:"baseline_period_minutes"`
}

type ProviderCreds struct {
	Token     string `yaml:"token"`
	ApiKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
	Enabled   bool   `yaml:"enabled"`
}

type Reputation struct {
	IPTTLSeconds int            `yaml:"ip_ttl_seconds"`
	FreeASN      ProviderCreds  `yaml:"free_asn"`
	Privacy      ProviderCreds  `yaml:"privacy"`
	AbuseIPDB    ProviderCreds  `yaml:"reputation_provider"`
	AsnSeed      []AsnSeedEntry `yaml:"asn_seed"`
}

// AsnSeedEntry pre-classifies a well-known cloud/VPN ASN so the
// hosting/VPN branch of the ASN heuristic has signal before any
// provider or operator has touched it.
type AsnSeedEntry struct {
	ASN       int    `yaml:"asn"`
	OrgName   string `yaml:"org_name"`
	IsHosting bool   `yaml:"is_hosting"`
	IsVPN     bool   `yaml:"is_vpn"`
}

type Tor struct {
	URL                 string `yaml:"url"`
	IntervalSeconds     int    `yaml:"interval_seconds"`
	FetchTimeoutSeconds int    `yaml:"fetch_timeout_seconds"`
	FetchOnStart        bool   `yaml:"fetch_on_start"`
}

type GeoBlock struct {
	Enabled          bool     `yaml:"enabled"`
	BlockedCountries []string `yaml:"blocked_countries"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	Redis      Redis      `yaml:"redis"`
	RateLimit  RateLimit  `yaml:"rate_limit"`
	Abuse      Abuse      `yaml:"abuse"`
	Reputation Reputation `yaml:"reputation"`
	Tor        Tor        `yaml:"tor"`
	GeoBlock   GeoBlock   `yaml:"geo_block"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 100
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = 60
	}
	if c.Abuse.BurstThreshold <= 0 {
		c.Abuse.BurstThreshold = 50
	}
	if c.Abuse.BurstWindowSeconds <= 0 {
		c.Abuse.BurstWindowSeconds = 10
	}
	if c.Abuse.BurstMultiplier <= 0 {
		c.Abuse.BurstMultiplier = 5
	}
	if c.Abuse.AutoBanSeconds <= 0 {
		c.Abuse.AutoBanSeconds = 3600
	}
	if c.Abuse.BaselinePeriodMins <= 0 {
		c.Abuse.BaselinePeriodMins = 60
	}
	if c.Reputation.IPTTLSeconds <= 0 {
		c.Reputation.IPTTLSeconds = 3600
	}
	if c.Tor.URL == "" {
		c.Tor.URL = "https://check.torproject.org/torbulkexitlist"
	}
	if c.Tor.IntervalSeconds <= 0 {
		c.Tor.IntervalSeconds = 3600
	}
	if c.Tor.FetchTimeoutSeconds <= 0 {
		c.Tor.FetchTimeoutSeconds = 10
	}
}

func MustEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
