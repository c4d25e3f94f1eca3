package idempotency

import (
	"context"
	"time"
)

// Store is the key-value capability set the processing pipeline relies on.
// Exists is observational; Set is an unconditional write with expiry.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}
