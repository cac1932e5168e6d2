// Package redis implements store.Store on Redis with JSON-encoded records
// and sorted-set indexes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/sparkcloud/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using go-redis.
type Store struct {
	rdb goredis.UniversalClient
}

// New wraps an existing Redis client. The store owns the client and closes
// it on Close.
func New(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// scoreFromTime converts a time.Time to a sorted set score.
func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// isRedisNil checks if an error is a Redis nil (key not found).
func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

// getEntity retrieves and decodes a JSON entity.
func (s *Store) getEntity(ctx context.Context, key string, dest any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func marshal(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("sparkcloud/redis: marshal entity: %w", err)
	}
	return raw, nil
}
