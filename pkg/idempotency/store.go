package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store remembers processed delivery ids across process instances so that
// at-least-once webhook redelivery can be short-circuited before it reaches
// the workflow. The handlers behind it are idempotent anyway; this is a
// fast path, not the correctness guarantee.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Key namespaces an external delivery id.
func (s *Store) Key(source, deliveryID string) string {
	return fmt.Sprintf("idem:%s:%s", source, deliveryID)
}

// Seen reports whether the key has been recorded. It does not record it;
// checking and marking are separate so a delivery that fails mid-handling
// stays unmarked and the redelivery reaches the workflow.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records the key. Call only after the delivery has been fully handled.
func (s *Store) Mark(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, key, "1", s.ttl).Err()
}
