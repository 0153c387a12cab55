// Package store is the persistence layer for erads: every entity in
// the data model (counters, bans, API keys, request log, geo-block
// settings, reputation/ASN/Tor/manual-block/provider caches) is owned
// exclusively by the value types in this package and addressed
// through a single Redis instance, the way the teacher repo backs its
// limiter and mitigation state. Counter increments get atomicity
// equivalent to row-level compare-and-set from embedded Lua scripts
// run through *redis.Script, generalizing the teacher's token-bucket
// script; other multi-key writes go through MULTI/EXEC pipelines.
package store

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Store wraps a Redis client with the key namespace and scripts used
// by every sub-component (Counters, Bans, APIKeys, ...).
type Store struct {
	rdb   *redis.Client
	clock func() time.Time
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, clock: time.Now}
}

// WithClock overrides the time source; tests use this to pin "now".
func (s *Store) WithClock(clock func() time.Time) *Store {
	s2 := *s
	s2.clock = clock
	return &s2
}

func (s *Store) now() time.Time { return s.clock() }

// Now exposes the store's clock so callers can compute durations
// (e.g. retry_after) against the same time source used internally,
// which matters for tests that pin the clock via WithClock.
func (s *Store) Now() time.Time { return s.clock() }

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func redisZ(score float64, member string) redis.Z {
	return redis.Z{Score: score, Member: member}
}

func (s *Store) Close() error { return s.rdb.Close() }

const keyPrefix = "erads:"

func k(parts ...string) string {
	out := keyPrefix
	for i, p := range parts {
		if i > 0 {
			out += ":"
		}
		out += p
	}
	return out
}
