package store_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/rishisurf/erads/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.New(rdb)
}

// newTestClock returns a store wired to a mutable clock so tests can
// advance time deterministically, plus a setter to move it.
func newTestClock(t *testing.T, start time.Time) (*store.Store, func(time.Time)) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cur := start
	st := store.New(rdb).WithClock(func() time.Time { return cur })
	return st, func(t time.Time) { cur = t }
}
