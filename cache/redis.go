package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EasterCompany/dex-tts-service/audio"
	"github.com/EasterCompany/dex-tts-service/config"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dex-tts-service:"

// Dial connects to Redis and checks the connection. It returns nil, nil when
// no address is configured.
func Dial(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to cache at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// RedisStore keeps synthesized audio in Redis as Ogg/Opus.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a store whose entries expire after ttl. Zero keeps
// entries forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func audioKey(key Key) string {
	return keyPrefix + "audio:" + key.Fingerprint()
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, key Key) (*audio.Clip, error) {
	data, err := s.rdb.Get(ctx, audioKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("could not load audio: %w", err)
	}
	clip, err := audio.ReadOgg(bytes.NewReader(data), key.Text)
	if err != nil {
		return nil, fmt.Errorf("could not decode stored audio: %w", err)
	}
	return clip, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, key Key, clip *audio.Clip) error {
	var buf bytes.Buffer
	if err := audio.WriteOgg(&buf, clip); err != nil {
		return err
	}
	return s.rdb.Set(ctx, audioKey(key), buf.Bytes(), s.ttl).Err()
}

func (s *RedisStore) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"audio:*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Count returns the number of stored utterances.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := s.scan(ctx)
	return len(keys), err
}

// CleanAll deletes every stored utterance.
func (s *RedisStore) CleanAll(ctx context.Context) (int64, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.rdb.Del(ctx, keys...).Result()
}
