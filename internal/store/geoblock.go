package store

import (
	"context"
	"strings"
)

func geoSettingsKey() string   { return k("geoblock", "settings") }
func geoCountriesKey() string  { return k("geoblock", "countries") }

func (s *Store) GeoIsEnabled(ctx context.Context) (bool, error) {
	v, err := s.rdb.HGet(ctx, geoSettingsKey(), "enabled").Result()
	if err != nil {
		return false, nil // absent => disabled
	}
	return v == "1", nil
}

func (s *Store) GeoSetEnabled(ctx context.Context, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	return s.rdb.HSet(ctx, geoSettingsKey(), "enabled", v).Err()
}

func (s *Store) GeoIsBlocked(ctx context.Context, code string) (bool, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false, nil
	}
	return s.rdb.SIsMember(ctx, geoCountriesKey(), code).Result()
}

func (s *Store) GeoAdd(ctx context.Context, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	return s.rdb.SAdd(ctx, geoCountriesKey(), code).Err()
}

func (s *Store) GeoRemove(ctx context.Context, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	return s.rdb.SRem(ctx, geoCountriesKey(), code).Err()
}

func (s *Store) GeoList(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, geoCountriesKey()).Result()
}

func (s *Store) GeoReplaceAll(ctx context.Context, codes []string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, geoCountriesKey())
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			pipe.SAdd(ctx, geoCountriesKey(), c)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}
