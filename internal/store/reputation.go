package store

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReputationRecord is the cached classification outcome for an address.
type ReputationRecord struct {
	Address    string    `json:"address"`
	Proxy      bool      `json:"proxy"`
	VPN        bool      `json:"vpn"`
	Tor        bool      `json:"tor"`
	Hosting    bool      `json:"hosting"`
	Residential bool     `json:"residential"`
	Confidence int       `json:"confidence"`
	Reason     string    `json:"reason"`
	Source     string    `json:"source"`
	ASN        *int      `json:"asn,omitempty"`
	ASNOrg     string    `json:"asn_org,omitempty"`
	Country    string    `json:"country,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func repKey(address string) string { return k("rep", address) }

func (s *Store) GetReputation(ctx context.Context, address string) (*ReputationRecord, error) {
	raw, err := s.rdb.Get(ctx, repKey(address)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec ReputationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil
	}
	if !rec.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) UpsertReputation(ctx context.Context, rec ReputationRecord, ttl time.Duration) error {
	rec.CheckedAt = s.now().UTC()
	rec.ExpiresAt = rec.CheckedAt.Add(ttl)
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, repKey(rec.Address), raw, ttl).Err()
}

// AsnRecord is a known-ASN classification, seeded or provider-derived.
type AsnRecord struct {
	ASN       int       `json:"asn"`
	OrgName   string    `json:"org_name"`
	IsHosting bool      `json:"is_hosting"`
	IsVPN     bool      `json:"is_vpn"`
	Country   string    `json:"country,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func asnKey(asn int) string { return k("asn", itoa(int64(asn))) }

func (s *Store) GetAsn(ctx context.Context, asn int) (*AsnRecord, error) {
	raw, err := s.rdb.Get(ctx, asnKey(asn)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec AsnRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil
	}
	if rec.ExpiresAt != nil && !rec.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return &rec, nil
}

// UpsertAsn writes an ASN record. ttl == 0 means "no expiry" — used
// for the startup-seeded well-known cloud/VPN ASN list.
func (s *Store) UpsertAsn(ctx context.Context, rec AsnRecord, ttl time.Duration) error {
	if ttl > 0 {
		exp := s.now().UTC().Add(ttl)
		rec.ExpiresAt = &exp
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, asnKey(rec.ASN), raw, ttl).Err()
}

// ManualBlockEntry is an operator-entered block against an address,
// ASN, or CIDR range.
type ManualBlockEntry struct {
	ID         string     `json:"id"`
	Identifier string     `json:"identifier"`
	Kind       string     `json:"kind"` // address | asn | cidr
	Reason     string     `json:"reason"`
	BlockedBy  string     `json:"blocked_by"`
	BlockedAt  time.Time  `json:"blocked_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func manualBlockKey(kind, identifier string) string { return k("manualblock", kind, identifier) }

func (s *Store) GetManualBlock(ctx context.Context, identifier, kind string) (*ManualBlockEntry, error) {
	raw, err := s.rdb.Get(ctx, manualBlockKey(kind, identifier)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e ManualBlockEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) AddManualBlock(ctx context.Context, e ManualBlockEntry) error {
	e.BlockedAt = s.now().UTC()
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if e.ExpiresAt != nil {
		ttl = time.Until(*e.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, manualBlockKey(e.Kind, e.Identifier), raw, ttl)
	if e.Kind == "cidr" {
		pipe.SAdd(ctx, k("manualblock", "cidr", "all"), e.Identifier)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) RemoveManualBlock(ctx context.Context, identifier, kind string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, manualBlockKey(kind, identifier))
	if kind == "cidr" {
		pipe.SRem(ctx, k("manualblock", "cidr", "all"), identifier)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) ListManualBlocks(ctx context.Context) ([]ManualBlockEntry, error) {
	var out []ManualBlockEntry
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, k("manualblock", "*"), 1000).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if key == k("manualblock", "cidr", "all") {
				continue
			}
			raw, err := s.rdb.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var e ManualBlockEntry
			if err := json.Unmarshal(raw, &e); err == nil {
				out = append(out, e)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// ActiveCidrBlocks returns the CIDR strings currently blocked.
func (s *Store) ActiveCidrBlocks(ctx context.Context) ([]string, error) {
	cidrs, err := s.rdb.SMembers(ctx, k("manualblock", "cidr", "all")).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(cidrs))
	for _, c := range cidrs {
		// A block added with expires_at loses its key on expiry while
		// its index entry stays; skip those.
		if n, err := s.rdb.Exists(ctx, manualBlockKey("cidr", c)).Result(); err == nil && n == 0 {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// ---- Tor exit set ----

func torExitSetKey() string           { return k("tor", "exits") }
func torSeenKey(address string) string { return k("tor", "seen", address) }

func (s *Store) IsTorExit(ctx context.Context, address string) (bool, error) {
	return s.rdb.SIsMember(ctx, torExitSetKey(), address).Result()
}

// SyncTorExits bulk-upserts the given addresses in one transaction,
// stamping last_seen=now (and first_seen on first sight).
func (s *Store) SyncTorExits(ctx context.Context, addresses []string) error {
	now := itoa(s.now().Unix())
	pipe := s.rdb.TxPipeline()
	for _, a := range addresses {
		pipe.SAdd(ctx, torExitSetKey(), a)
		pipe.HSetNX(ctx, torSeenKey(a), "first_seen", now)
		pipe.HSet(ctx, torSeenKey(a), "last_seen", now)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) TorExitCount(ctx context.Context) (int64, error) {
	return s.rdb.SCard(ctx, torExitSetKey()).Result()
}

// ---- Provider response cache ----

func providerCacheKey(address, provider string) string { return k("provcache", provider, address) }

func (s *Store) GetProviderCached(ctx context.Context, address, provider string) ([]byte, bool, error) {
	raw, err := s.rdb.Get(ctx, providerCacheKey(address, provider)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *Store) SetProviderCached(ctx context.Context, address, provider string, raw []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, providerCacheKey(address, provider), raw, ttl).Err()
}

// ---- Reputation-engine stats ----

func repStatsKey(day string) string { return k("repstats", day) }

func (s *Store) IncrementStat(ctx context.Context, name string, n int64) error {
	day := s.now().UTC().Format("2006-01-02")
	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, repStatsKey(day), name, n)
	pipe.Expire(ctx, repStatsKey(day), 91*24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) AggregateStats(ctx context.Context, days int) (map[string]int64, error) {
	out := map[string]int64{}
	for i := 0; i < days; i++ {
		day := s.now().UTC().AddDate(0, 0, -i).Format("2006-01-02")
		fields, err := s.rdb.HGetAll(ctx, repStatsKey(day)).Result()
		if err != nil {
			continue
		}
		for name, v := range fields {
			out[name] += mustParseInt64(v)
		}
	}
	return out, nil
}

// CleanupReputation deletes daily stats hashes older than 90 days.
// Reputation, ASN, provider-cache and manual-block keys that carry a
// TTL are reaped by Redis itself and are not scanned here.
func (s *Store) CleanupReputation(ctx context.Context) error {
	cutoff := s.now().UTC().AddDate(0, 0, -90)
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, k("repstats", "*"), 1000).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			day := key[len(k("repstats", "")):]
			t, err := time.Parse("2006-01-02", day)
			if err == nil && t.Before(cutoff) {
				s.rdb.Del(ctx, key)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
