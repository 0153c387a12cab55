package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/rishisurf/erads/internal/apierr"
)

// ApiKey is an issued credential. Plaintext is never stored, only its
// fingerprint.
type ApiKey struct {
	ID             string            `json:"id"`
	KeyFingerprint string            `json:"key_fingerprint"`
	DisplayName    string            `json:"display_name"`
	Limit          int64             `json:"limit"`
	WindowSeconds  int64             `json:"window_seconds"`
	Active         bool              `json:"active"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	LastUsedAt     *time.Time        `json:"last_used_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IsExpired treats expires_at == now as expired.
func (k ApiKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

const keyPlaintextPrefix = "rl_"

func keyByID(id string) string             { return k("key", id) }
func keyByFingerprint(fp string) string     { return k("key", "fp", fp) }

func fingerprint(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// FingerprintApiKey exposes the lookup fingerprint for callers (request
// logging, ban/rate-limit identifiers) that need a stable, non-reversible
// stand-in for a bearer token before or without ever resolving it to a
// stored ApiKey — the plaintext itself must never reach persistent
// storage, cache keys, or logs.
func FingerprintApiKey(plaintext string) string {
	return fingerprint(plaintext)
}

func generatePlaintext() (string, error) {
	// 24 bytes -> 48 hex chars, 192 bits of entropy.
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return keyPlaintextPrefix + hex.EncodeToString(buf), nil
}

// CreateApiKey validates input and persists only the fingerprint; the
// plaintext is returned once and never stored.
func (s *Store) CreateApiKey(ctx context.Context, name string, limit, windowSeconds int64, expiresAt *time.Time, metadata map[string]string) (*ApiKey, string, error) {
	if name == "" || len(name) > 100 {
		return nil, "", apierr.Validationf("name must be 1-100 characters")
	}
	if limit < 1 {
		return nil, "", apierr.Validationf("limit must be >= 1")
	}
	if windowSeconds < 1 {
		return nil, "", apierr.Validationf("window_seconds must be >= 1")
	}
	now := s.now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, "", apierr.Validationf("expires_at must be strictly in the future")
	}

	plaintext, err := generatePlaintext()
	if err != nil {
		return nil, "", apierr.Internalf(err, "generate key material")
	}
	fp := fingerprint(plaintext)

	id, err := s.rdb.Incr(ctx, k("key", "seq")).Result()
	if err != nil {
		return nil, "", apierr.Internalf(err, "allocate key id")
	}
	rec := ApiKey{
		ID:             itoa(id),
		KeyFingerprint: fp,
		DisplayName:    name,
		Limit:          limit,
		WindowSeconds:  windowSeconds,
		Active:         true,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		Metadata:       metadata,
	}
	if err := s.putApiKey(ctx, rec); err != nil {
		return nil, "", apierr.Internalf(err, "store key")
	}
	return &rec, plaintext, nil
}

func (s *Store) putApiKey(ctx context.Context, rec ApiKey) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyByID(rec.ID), raw, 0)
	// Uniqueness is enforced by generating fresh random material at
	// Rotate/Create time and relying on the collision probability of a
	// 192-bit token, not by SetNX, since rotation must be able to
	// rewrite the fingerprint pointer for the same key id.
	pipe.Set(ctx, keyByFingerprint(rec.KeyFingerprint), rec.ID, 0)
	_, err = pipe.Exec(ctx)
	return err
}

// LookupApiKey hashes plaintext and returns the active key it resolves
// to, touching last_used_at as a side effect. An active key past its
// expires_at is returned without the touch, so callers can tell an
// expired key (IsExpired) from an unknown or inactive one (nil).
func (s *Store) LookupApiKey(ctx context.Context, plaintext string) (*ApiKey, error) {
	fp := fingerprint(plaintext)
	id, err := s.rdb.Get(ctx, keyByFingerprint(fp)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := s.GetApiKeyByID(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if !rec.Active {
		return nil, nil
	}
	if rec.IsExpired(s.now()) {
		return rec, nil
	}
	now := s.now().UTC()
	rec.LastUsedAt = &now
	_ = s.putApiKey(ctx, *rec) // best-effort touch; failure doesn't block the caller
	return rec, nil
}

func (s *Store) GetApiKeyByID(ctx context.Context, id string) (*ApiKey, error) {
	raw, err := s.rdb.Get(ctx, keyByID(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec ApiKey
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListApiKeys scans ids 1..seq (ids are sequential) applying limit/offset.
func (s *Store) ListApiKeys(ctx context.Context, limit, offset int) ([]ApiKey, error) {
	seq, err := s.rdb.Get(ctx, k("key", "seq")).Int64()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	var out []ApiKey
	skipped := 0
	for id := int64(1); id <= seq; id++ {
		rec, err := s.GetApiKeyByID(ctx, itoa(id))
		if err != nil || rec == nil {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RotateApiKey replaces the fingerprint (and removes the old pointer)
// while keeping the record id stable, and resets last_used_at.
func (s *Store) RotateApiKey(ctx context.Context, id string) (*ApiKey, string, error) {
	rec, err := s.GetApiKeyByID(ctx, id)
	if err != nil {
		return nil, "", apierr.Internalf(err, "lookup key")
	}
	if rec == nil {
		return nil, "", apierr.NotFoundf("key %s not found", id)
	}
	plaintext, err := generatePlaintext()
	if err != nil {
		return nil, "", apierr.Internalf(err, "generate key material")
	}
	oldFP := rec.KeyFingerprint
	rec.KeyFingerprint = fingerprint(plaintext)
	rec.LastUsedAt = nil
	if err := s.putApiKey(ctx, *rec); err != nil {
		return nil, "", apierr.Internalf(err, "store rotated key")
	}
	_ = s.rdb.Del(ctx, keyByFingerprint(oldFP)).Err()
	return rec, plaintext, nil
}

func (s *Store) DeactivateApiKey(ctx context.Context, id string) error {
	rec, err := s.GetApiKeyByID(ctx, id)
	if err != nil {
		return apierr.Internalf(err, "lookup key")
	}
	if rec == nil {
		return apierr.NotFoundf("key %s not found", id)
	}
	rec.Active = false
	return s.putApiKey(ctx, *rec)
}

func (s *Store) DeleteApiKey(ctx context.Context, id string) error {
	rec, err := s.GetApiKeyByID(ctx, id)
	if err != nil {
		return apierr.Internalf(err, "lookup key")
	}
	if rec == nil {
		return apierr.NotFoundf("key %s not found", id)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keyByID(id))
	pipe.Del(ctx, keyByFingerprint(rec.KeyFingerprint))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) CountActiveApiKeys(ctx context.Context) (int64, error) {
	keys, err := s.ListApiKeys(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	var n int64
	now := s.now()
	for _, rec := range keys {
		if rec.Active && !rec.IsExpired(now) {
			n++
		}
	}
	return n, nil
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
