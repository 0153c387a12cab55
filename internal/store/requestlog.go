package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LogEntry is a single admission decision recorded for audit and stats.
type LogEntry struct {
	Identifier string    `json:"identifier"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason"`
	Country    string    `json:"country,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func logKey(identifier string) string { return k("log", identifier) }

func statsKey(day string) string { return k("stats", day) }

// Log appends an entry to the identifier's sorted set (score = unix
// seconds) and bumps the daily aggregate counters used by Aggregate.
func (s *Store) Log(ctx context.Context, e LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	seq, err := s.rdb.Incr(ctx, k("logseq")).Result()
	if err != nil {
		return err
	}
	// A zero-padded sequence number leads every member, so identical
	// entries in the same second stay distinct and sort by insertion
	// order within their score.
	raw, err := json.Marshal(struct {
		Seq string `json:"seq"`
		LogEntry
	}{fmt.Sprintf("%020d", seq), e})
	if err != nil {
		return err
	}
	score := float64(e.Timestamp.Unix())
	day := e.Timestamp.UTC().Format("2006-01-02")

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, logKey(e.Identifier), redisZ(score, string(raw)))
	pipe.HIncrBy(ctx, statsKey(day), "total", 1)
	if e.Allowed {
		pipe.HIncrBy(ctx, statsKey(day), "allowed", 1)
	} else {
		pipe.HIncrBy(ctx, statsKey(day), "blocked", 1)
		pipe.HIncrBy(ctx, statsKey(day), "reason:"+e.Reason, 1)
	}
	pipe.HIncrBy(ctx, statsKey(day), "ident:"+e.Identifier, 1)
	pipe.HIncrBy(ctx, statsKey(day), "path:"+e.Path, 1)
	pipe.Expire(ctx, statsKey(day), 91*24*time.Hour)
	_, err = pipe.Exec(ctx)
	return err
}

// CountInWindow counts log entries for identifier in the trailing
// `seconds` window ending now — the abuse detector's burst signal.
func (s *Store) CountInWindow(ctx context.Context, identifier string, seconds int64) (int64, error) {
	now := s.now().Unix()
	return s.rdb.ZCount(ctx, logKey(identifier), itoa(now-seconds), itoa(now)).Result()
}

// BaselineRatePerMinute returns count/periodMinutes over the trailing
// periodMinutes window — the abuse detector's baseline signal.
func (s *Store) BaselineRatePerMinute(ctx context.Context, identifier string, periodMinutes int64) (float64, error) {
	n, err := s.CountInWindow(ctx, identifier, periodMinutes*60)
	if err != nil {
		return 0, err
	}
	if periodMinutes <= 0 {
		return 0, nil
	}
	return float64(n) / float64(periodMinutes), nil
}

// RecentFor returns the most recent `limit` entries for identifier.
func (s *Store) RecentFor(ctx context.Context, identifier string, limit int64) ([]LogEntry, error) {
	raws, err := s.rdb.ZRevRange(ctx, logKey(identifier), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]LogEntry, 0, len(raws))
	for _, raw := range raws {
		var e LogEntry
		if err := json.Unmarshal([]byte(raw), &e); err == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// Aggregate is the admin-facing stats rollup over a date range.
type Aggregate struct {
	Total          int64
	Allowed        int64
	Blocked        int64
	ByReason       map[string]int64
	TopIdentifiers map[string]int64
	TopPaths       map[string]int64
	ActiveBans     int64
	ActiveKeys     int64
}

// Aggregate walks the daily stats hashes between start and end
// (inclusive, UTC dates) and returns totals, the allowed/blocked
// split, counts by reason, and the top-N identifiers/paths.
func (s *Store) Aggregate(ctx context.Context, start, end time.Time, topN int) (Aggregate, error) {
	agg := Aggregate{ByReason: map[string]int64{}, TopIdentifiers: map[string]int64{}, TopPaths: map[string]int64{}}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		day := d.UTC().Format("2006-01-02")
		fields, err := s.rdb.HGetAll(ctx, statsKey(day)).Result()
		if err != nil {
			continue
		}
		for name, valStr := range fields {
			val := mustParseInt64(valStr)
			switch {
			case name == "total":
				agg.Total += val
			case name == "allowed":
				agg.Allowed += val
			case name == "blocked":
				agg.Blocked += val
			case strings.HasPrefix(name, "reason:"):
				agg.ByReason[strings.TrimPrefix(name, "reason:")] += val
			case strings.HasPrefix(name, "ident:"):
				agg.TopIdentifiers[strings.TrimPrefix(name, "ident:")] += val
			case strings.HasPrefix(name, "path:"):
				agg.TopPaths[strings.TrimPrefix(name, "path:")] += val
			}
		}
	}
	agg.TopIdentifiers = topNMap(agg.TopIdentifiers, topN)
	agg.TopPaths = topNMap(agg.TopPaths, topN)

	if n, err := s.countActiveBans(ctx); err == nil {
		agg.ActiveBans = n
	}
	if n, err := s.CountActiveApiKeys(ctx); err == nil {
		agg.ActiveKeys = n
	}
	return agg, nil
}

func (s *Store) countActiveBans(ctx context.Context) (int64, error) {
	bans, err := s.ListActiveBans(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(bans)), nil
}

func topNMap(m map[string]int64, n int) map[string]int64 {
	if n <= 0 || len(m) <= n {
		return m
	}
	type kv struct {
		k string
		v int64
	}
	kvs := make([]kv, 0, len(m))
	for k, v := range m {
		kvs = append(kvs, kv{k, v})
	}
	for i := 0; i < len(kvs); i++ {
		for j := i + 1; j < len(kvs); j++ {
			if kvs[j].v > kvs[i].v {
				kvs[i], kvs[j] = kvs[j], kvs[i]
			}
		}
	}
	out := map[string]int64{}
	for i := 0; i < n && i < len(kvs); i++ {
		out[kvs[i].k] = kvs[i].v
	}
	return out
}

// CleanupRequestLog trims identifier's log entries older than
// retentionDays.
func (s *Store) CleanupRequestLog(ctx context.Context, identifier string, retentionDays int) error {
	floor := s.now().AddDate(0, 0, -retentionDays).Unix()
	return s.rdb.ZRemRangeByScore(ctx, logKey(identifier), "-inf", itoa(floor)).Err()
}
