package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/llm-playground/internal/settings"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Ping checks connectivity with a short timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.rdb.Close() }

// SettingsStore keeps the playground settings as one JSON value.
type SettingsStore struct {
	rdb    *redis.Client
	key    string
	sealer *settings.Sealer
}

func (s *Store) Settings(key string, sealer *settings.Sealer) *SettingsStore {
	if key == "" {
		key = "playground:settings"
	}
	return &SettingsStore{rdb: s.rdb, key: key, sealer: sealer}
}

func (s *SettingsStore) Load(ctx context.Context) (settings.Settings, error) {
	b, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return settings.Defaults(), nil
		}
		return settings.Settings{}, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return settings.Decode(b, s.sealer)
}

func (s *SettingsStore) Save(ctx context.Context, st settings.Settings) error {
	b, err := settings.Encode(st, s.sealer)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, b, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

var _ settings.Repository = (*SettingsStore)(nil)
