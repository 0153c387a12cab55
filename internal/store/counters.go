package store

import (
	"context"
	_ "embed"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

//go:embed scripts/counter_fixed.lua
var counterFixedLua string

//go:embed scripts/counter_sliding.lua
var counterSlidingLua string

var (
	fixedScript   = redis.NewScript(counterFixedLua)
	slidingScript = redis.NewScript(counterSlidingLua)
)

// CounterConfig is a rate-limit policy: a request budget over a window.
type CounterConfig struct {
	Limit         int64
	WindowSeconds int64
	Sliding       bool
}

// CounterResult is the outcome of a single CheckCounter call.
type CounterResult struct {
	Allowed       bool
	Remaining     int64
	ResetAt       time.Time
	Limit         int64
	WindowSeconds int64
}

func bucketKey(identifier string, windowStart int64) string {
	return k("cnt", identifier, strconv.FormatInt(windowStart, 10))
}

// CheckCounter implements the fixed/sliding window admission math.
// On any Redis error it fails open: allowed=true, zero budget.
func (s *Store) CheckCounter(ctx context.Context, identifier string, cfg CounterConfig) CounterResult {
	if cfg.WindowSeconds <= 0 || cfg.Limit <= 0 {
		return CounterResult{Allowed: true}
	}
	now := s.now().Unix()
	windowStart := (now / cfg.WindowSeconds) * cfg.WindowSeconds

	if !cfg.Sliding {
		res, err := fixedScript.Run(ctx, s.rdb,
			[]string{bucketKey(identifier, windowStart)},
			cfg.Limit, cfg.WindowSeconds, now,
		).Result()
		if err != nil {
			return failOpenCounter(cfg)
		}
		arr, ok := res.([]interface{})
		if !ok || len(arr) < 2 {
			return failOpenCounter(cfg)
		}
		allowed := toInt64(arr[0]) == 1
		countAfter := toInt64(arr[1])
		remaining := cfg.Limit - countAfter
		if remaining < 0 {
			remaining = 0
		}
		return CounterResult{
			Allowed:       allowed,
			Remaining:     remaining,
			ResetAt:       time.Unix(windowStart+cfg.WindowSeconds, 0).UTC(),
			Limit:         cfg.Limit,
			WindowSeconds: cfg.WindowSeconds,
		}
	}

	prevStart := windowStart - cfg.WindowSeconds
	res, err := slidingScript.Run(ctx, s.rdb,
		[]string{bucketKey(identifier, windowStart), bucketKey(identifier, prevStart)},
		cfg.Limit, cfg.WindowSeconds, windowStart, now,
	).Result()
	if err != nil {
		return failOpenCounter(cfg)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 3 {
		return failOpenCounter(cfg)
	}
	allowed := toInt64(arr[0]) == 1
	effective := toFloat64(arr[1])
	// remaining = floor(limit - effective - 1), clamped at 0; this can go
	// negative right at the limit boundary before the clamp.
	remaining := int64(floorFloat(float64(cfg.Limit) - effective - 1))
	if remaining < 0 {
		remaining = 0
	}
	return CounterResult{
		Allowed:       allowed,
		Remaining:     remaining,
		ResetAt:       time.Unix(now+cfg.WindowSeconds, 0).UTC(),
		Limit:         cfg.Limit,
		WindowSeconds: cfg.WindowSeconds,
	}
}

func failOpenCounter(cfg CounterConfig) CounterResult {
	return CounterResult{Allowed: true, Remaining: 0, ResetAt: time.Time{}, Limit: cfg.Limit, WindowSeconds: cfg.WindowSeconds}
}

// CleanupCounters deletes the buckets matching pattern (under the
// counter key prefix) whose last_touched is more than two hours old,
// and returns how many it deleted. Since buckets already carry a Redis
// TTL of 2*window_seconds (set on every increment) this is a
// best-effort belt-and-suspenders sweep for buckets that were created
// and never touched again; it is safe to call on a ticker.
func (s *Store) CleanupCounters(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	deleted := 0
	floor := s.now().Add(-2 * time.Hour).Unix()
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, k("cnt", pattern), 1000).Result()
		if err != nil {
			return deleted, err
		}
		for _, key := range keys {
			lt, err := s.rdb.HGet(ctx, key, "last_touched").Int64()
			if err == nil && lt < floor {
				if err := s.rdb.Del(ctx, key).Err(); err == nil {
					deleted++
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func floorFloat(f float64) float64 {
	i := int64(f)
	if f < 0 && float64(i) != f {
		i--
	}
	return float64(i)
}
