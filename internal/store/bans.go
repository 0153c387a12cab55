package store

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ban records a block placed against an identifier, permanent or timed.
type Ban struct {
	ID        int64      `json:"id"`
	Identifier string    `json:"identifier"`
	Reason    string     `json:"reason"`
	BannedAt  time.Time  `json:"banned_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedBy string     `json:"created_by"`
}

func (b Ban) Active(now time.Time) bool {
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

func banKey(identifier string) string     { return k("ban", identifier) }
func banHistKey(identifier string) string { return k("ban", "hist", identifier) }

// IsBanned returns the active ban for identifier, if any. Only one ban
// is ever stored as "active" (the JSON value at banKey) — creating a new ban
// always replaces it, which is also "the newest row" since creation is
// the only writer.
func (s *Store) IsBanned(ctx context.Context, identifier string) (*Ban, error) {
	raw, err := s.rdb.Get(ctx, banKey(identifier)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var b Ban
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, nil
	}
	if !b.Active(s.now()) {
		return nil, nil
	}
	return &b, nil
}

// CreateBan records a new ban (history) and, since it is always the
// most recent write, promotes it to the active ban.
func (s *Store) CreateBan(ctx context.Context, identifier, reason string, durationSeconds *int64, createdBy string) (*Ban, error) {
	id, err := s.rdb.Incr(ctx, k("ban", "seq")).Result()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	b := Ban{ID: id, Identifier: identifier, Reason: reason, BannedAt: now, CreatedBy: createdBy}
	var ttl time.Duration
	if durationSeconds != nil {
		exp := now.Add(time.Duration(*durationSeconds) * time.Second)
		b.ExpiresAt = &exp
		ttl = time.Duration(*durationSeconds) * time.Second
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, banHistKey(identifier), raw)
	if ttl > 0 {
		pipe.Set(ctx, banKey(identifier), raw, ttl)
	} else {
		pipe.Set(ctx, banKey(identifier), raw, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return &b, nil
}

const defaultAutoBanSeconds = 3600

// CreateAutoBan creates a system ban. durationSeconds defaults to one
// hour when nil. Duplicate auto-bans on an already-banned identifier
// are permitted (history).
func (s *Store) CreateAutoBan(ctx context.Context, identifier, reason string, durationSeconds *int64) (*Ban, error) {
	if durationSeconds == nil {
		d := int64(defaultAutoBanSeconds)
		durationSeconds = &d
	}
	return s.CreateBan(ctx, identifier, reason, durationSeconds, "system")
}

// RemoveBan clears the active ban for identifier if its id matches.
// History is left intact.
func (s *Store) RemoveBan(ctx context.Context, identifier string, id int64) error {
	b, err := s.IsBanned(ctx, identifier)
	if err != nil {
		return err
	}
	if b == nil || b.ID != id {
		return nil
	}
	return s.rdb.Del(ctx, banKey(identifier)).Err()
}

// RemoveAllBans clears any active ban on identifier (history remains).
func (s *Store) RemoveAllBans(ctx context.Context, identifier string) error {
	return s.rdb.Del(ctx, banKey(identifier)).Err()
}

// ListActiveBans scans the active-ban namespace. Redis SCAN has no
// stable total ordering, so limit/offset here means "at most limit
// items, skipping the first offset seen" rather than a true rank.
func (s *Store) ListActiveBans(ctx context.Context, limit, offset int) ([]Ban, error) {
	var out []Ban
	var cursor uint64
	skipped := 0
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, k("ban", "*"), 1000).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if len(key) > len(k("ban", "hist", "")) && key[:len(k("ban", "hist", ""))] == k("ban", "hist", "") {
				continue // skip history lists
			}
			raw, err := s.rdb.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var b Ban
			if err := json.Unmarshal(raw, &b); err != nil || !b.Active(s.now()) {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, b)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// CleanupBans trims every ban history list to its newest 1000 entries
// and returns how many lists it trimmed. Active-ban keys are not
// scanned: a timed ban's key carries a TTL and Redis reaps it.
func (s *Store) CleanupBans(ctx context.Context) (int, error) {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, k("ban", "hist", "*"), 1000).Result()
		if err != nil {
			return removed, err
		}
		for _, hk := range keys {
			trimmed, err := s.rdb.LTrim(ctx, hk, -1000, -1).Result()
			_ = trimmed
			if err == nil {
				removed++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

func mustParseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
