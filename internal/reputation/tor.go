package reputation

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rishisurf/erads/internal/store"
)

const (
	defaultTorListURL     = "https://check.torproject.org/torbulkexitlist"
	defaultTorInterval     = time.Hour
	defaultTorFetchTimeout = 10 * time.Second
)

// TorUpdaterConfig configures the background exit-list fetcher.
type TorUpdaterConfig struct {
	URL           string
	Interval      time.Duration
	FetchTimeout  time.Duration
	FetchOnStart  bool
}

func (c TorUpdaterConfig) withDefaults() TorUpdaterConfig {
	if c.URL == "" {
		c.URL = defaultTorListURL
	}
	if c.Interval <= 0 {
		c.Interval = defaultTorInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultTorFetchTimeout
	}
	return c
}

// TorUpdater periodically refreshes the known Tor exit-node set.
// One in-flight fetch at a time; overlapping fetchOnce calls collapse
// onto the same singleflight call.
type TorUpdater struct {
	cfg    TorUpdaterConfig
	store  *store.Store
	client *http.Client
	log    zerolog.Logger
	sf     singleflight.Group

	stop chan struct{}
	done chan struct{}
}

func NewTorUpdater(cfg TorUpdaterConfig, st *store.Store, log zerolog.Logger) *TorUpdater {
	cfg = cfg.withDefaults()
	return &TorUpdater{
		cfg:    cfg,
		store:  st,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		log:    log.With().Str("component", "tor_updater").Logger(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run blocks, fetching on startup (unless disabled) and then on every
// tick, until Stop is called. Meant to be launched in its own goroutine.
func (u *TorUpdater) Run(ctx context.Context) {
	defer close(u.done)

	if u.cfg.FetchOnStart {
		if err := u.fetchOnce(ctx); err != nil {
			u.log.Warn().Err(err).Msg("initial tor exit list fetch failed")
		}
	}

	ticker := time.NewTicker(u.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.stop:
			return
		case <-ticker.C:
			if err := u.fetchOnce(ctx); err != nil {
				u.log.Warn().Err(err).Msg("tor exit list fetch failed")
			}
		}
	}
}

// Stop signals Run to exit and waits for an in-flight fetch to finish.
func (u *TorUpdater) Stop() {
	close(u.stop)
	<-u.done
}

func (u *TorUpdater) fetchOnce(ctx context.Context) error {
	_, err, _ := u.sf.Do("fetch", func() (interface{}, error) {
		addrs, err := u.fetch(ctx)
		if err != nil {
			return nil, err
		}
		if len(addrs) == 0 {
			return nil, nil
		}
		if err := u.store.SyncTorExits(ctx, addrs); err != nil {
			return nil, err
		}
		u.log.Info().Int("count", len(addrs)).Msg("synced tor exit list")
		return nil, nil
	})
	return err
}

func (u *TorUpdater) fetch(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil
	}
	return parseTorList(resp.Body)
}

func parseTorList(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(io.LimitReader(r, 8<<20))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if ip := net.ParseIP(line); ip != nil && ip.To4() != nil {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
