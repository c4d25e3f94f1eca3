package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore backs the idempotency protocol with a single Redis instance.
// No cross-key transactions are needed; consistency per key is delegated to
// the store.
type RedisStore struct {
	client *redis.Client
	lg     zerolog.Logger
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})
}

func NewRedisStore(client *redis.Client, lg zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		lg:     lg.With().Str("component", "idempotency_store").Logger(),
	}
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("empty key")
	}
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency set %q: %w", key, err)
	}
	return nil
}
