package idempotency

import (
	"context"
	"time"
)

// NoopStore disables duplicate suppression. Every message looks new and
// nothing is recorded; useful for local runs without Redis.
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

func (s *NoopStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
