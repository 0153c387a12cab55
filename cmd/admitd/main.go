package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rishisurf/erads/internal/admission"
	"github.com/rishisurf/erads/internal/httpserver"
	"github.com/rishisurf/erads/internal/reputation"
	"github.com/rishisurf/erads/internal/store"
	"github.com/rishisurf/erads/pkg/config"
	"github.com/rishisurf/erads/pkg/metrics"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	switch strings.ToLower(getenv("LOG_LEVEL", "info")) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfgPath := os.Getenv("ERADS_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/policies.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", cfgPath).Msg("load config")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     getenv("REDIS_ADDR", cfg.Redis.Addr),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	st := store.New(rdb)
	seedGeoBlockList(st, cfg)
	seedAsnList(st, cfg)

	metrics.RegisterReputationMetrics(prometheus.DefaultRegisterer)

	asn := reputation.NewFreeASNProvider(cfg.Reputation.FreeASN.BaseURL)
	var providers []reputation.Provider
	if cfg.Reputation.Privacy.Token != "" {
		providers = append(providers, reputation.NewPrivacyProvider(cfg.Reputation.Privacy.Token, cfg.Reputation.Privacy.BaseURL, time.Duration(cfg.Reputation.Privacy.TimeoutMs)*time.Millisecond))
	}
	if cfg.Reputation.AbuseIPDB.ApiKey != "" {
		providers = append(providers, reputation.NewReputationProvider(cfg.Reputation.AbuseIPDB.ApiKey, cfg.Reputation.AbuseIPDB.BaseURL, time.Duration(cfg.Reputation.AbuseIPDB.TimeoutMs)*time.Millisecond))
	}
	registry := reputation.NewRegistry(append([]reputation.Provider{asn}, providers...)...)
	engine := reputation.NewEngine(st, asn, registry, reputation.EngineConfig{
		IPTTL: time.Duration(cfg.Reputation.IPTTLSeconds) * time.Second,
	}, log.Logger)

	torUpdater := reputation.NewTorUpdater(reputation.TorUpdaterConfig{
		URL:          cfg.Tor.URL,
		Interval:     time.Duration(cfg.Tor.IntervalSeconds) * time.Second,
		FetchTimeout: time.Duration(cfg.Tor.FetchTimeoutSeconds) * time.Second,
		FetchOnStart: cfg.Tor.FetchOnStart,
	}, st, log.Logger)

	torCtx, torCancel := context.WithCancel(context.Background())
	go torUpdater.Run(torCtx)

	gaugeCtx, gaugeCancel := context.WithCancel(context.Background())
	go admission.RunGaugeRefresher(gaugeCtx, st, 30*time.Second)

	abuse := admission.NewAbuseDetector(st, admission.AbuseConfig{
		BurstThreshold:     cfg.Abuse.BurstThreshold,
		BurstWindowSeconds: cfg.Abuse.BurstWindowSeconds,
		BurstMultiplier:    cfg.Abuse.BurstMultiplier,
		AutoBanSeconds:     cfg.Abuse.AutoBanSeconds,
		BaselinePeriodMins: cfg.Abuse.BaselinePeriodMins,
	}, log.Logger)

	pipeline := admission.NewPipeline(st, abuse, admission.PipelineConfig{
		DefaultLimit:         cfg.RateLimit.Limit,
		DefaultWindowSeconds: cfg.RateLimit.WindowSeconds,
		Sliding:              cfg.RateLimit.Sliding,
		LogAllRequests:       cfg.RateLimit.LogAllRequests,
	}, log.Logger)

	router := httpserver.NewRouter(httpserver.RouterDeps{Store: st, Pipeline: pipeline, Reputation: engine})

	addr := getenv("ERADS_HTTP_ADDR", cfg.Server.Addr)
	if addr == "" {
		addr = ":8080"
	}
	log.Info().
		Str("addr", addr).
		Str("config", cfgPath).
		Str("log_level", zerolog.GlobalLevel().String()).
		Msg("erads admission daemon starting")

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not reachable yet")
	} else {
		log.Info().Msg("redis reachable")
	}
	pingCancel()

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	httpserver.EnableDrainFlag(true)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown requested; draining")

	httpserver.SetDraining(true)

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown did not complete in time; forcing close")
		_ = srv.Close()
	} else {
		log.Info().Msg("http server shut down cleanly")
	}
	shCancel()

	torUpdater.Stop()
	torCancel()
	gaugeCancel()

	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	} else {
		log.Info().Msg("redis closed")
	}

	log.Info().Msg("erads admission daemon exited")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// seedGeoBlockList pushes the config file's geo-block list into the
// store only if no list has been set yet, so an operator's runtime
// edits via the admin API survive a restart with the same config.
func seedGeoBlockList(st *store.Store, cfg *config.Config) {
	if len(cfg.GeoBlock.BlockedCountries) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	existing, err := st.GeoList(ctx)
	if err != nil || len(existing) > 0 {
		return
	}
	if err := st.GeoReplaceAll(ctx, cfg.GeoBlock.BlockedCountries); err != nil {
		log.Warn().Err(err).Msg("failed to seed geo-block list")
		return
	}
	if err := st.GeoSetEnabled(ctx, cfg.GeoBlock.Enabled); err != nil {
		log.Warn().Err(err).Msg("failed to seed geo-block enabled flag")
	}
}

// seedAsnList writes the config file's well-known hosting/VPN ASNs,
// one record at a time, skipping any ASN an operator or provider has
// already classified so runtime UpsertAsn edits survive a restart.
func seedAsnList(st *store.Store, cfg *config.Config) {
	if len(cfg.Reputation.AsnSeed) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, entry := range cfg.Reputation.AsnSeed {
		existing, err := st.GetAsn(ctx, entry.ASN)
		if err != nil {
			log.Warn().Err(err).Int("asn", entry.ASN).Msg("failed to check seeded ASN")
			continue
		}
		if existing != nil {
			continue
		}
		rec := store.AsnRecord{ASN: entry.ASN, OrgName: entry.OrgName, IsHosting: entry.IsHosting, IsVPN: entry.IsVPN}
		if err := st.UpsertAsn(ctx, rec, 0); err != nil {
			log.Warn().Err(err).Int("asn", entry.ASN).Msg("failed to seed ASN record")
		}
	}
}
