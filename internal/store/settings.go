package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	settingsKey = "settings"

	scrapeLimitSetting = "scrape_limit"

	// DefaultScrapeLimit applies when no scrape limit has been stored.
	DefaultScrapeLimit = 3
)

// SettingsStore keeps runtime-tunable settings in a Redis hash.
type SettingsStore struct {
	rdb *redis.Client
}

func NewSettingsStore(rdb *redis.Client) *SettingsStore {
	return &SettingsStore{rdb: rdb}
}

// Get returns the stored value or def when the key is unset.
func (s *SettingsStore) Get(ctx context.Context, key, def string) (string, error) {
	val, err := s.rdb.HGet(ctx, settingsKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return val, nil
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.HSet(ctx, settingsKey, key, value).Err(); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// ScrapeLimit returns the per-section article limit, DefaultScrapeLimit if
// unset or unparsable.
func (s *SettingsStore) ScrapeLimit(ctx context.Context) (int, error) {
	val, err := s.Get(ctx, scrapeLimitSetting, strconv.Itoa(DefaultScrapeLimit))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 1 {
		return DefaultScrapeLimit, nil
	}
	return n, nil
}

func (s *SettingsStore) SetScrapeLimit(ctx context.Context, limit int) error {
	if limit < 1 {
		return fmt.Errorf("scrape limit must be positive, got %d", limit)
	}
	return s.Set(ctx, scrapeLimitSetting, strconv.Itoa(limit))
}
