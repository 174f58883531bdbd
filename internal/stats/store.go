// Package stats maintains per-user aggregate counters in Redis.
// Counters are a side channel for profile badges and analytics:
//
//	Key:   stats:messages:<user_id>
//	Value: total messages sent
package stats

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// MessagesPrefix is the Redis key prefix for per-user message counters.
const MessagesPrefix = "stats:messages:"

// Store manages aggregate counters in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a stats store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IncrMessagesSent atomically increments the user's sent-message counter
// and returns the new total.
func (s *Store) IncrMessagesSent(ctx context.Context, userID string) (int64, error) {
	n, err := s.client.Incr(ctx, MessagesPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("stats: incr messages for %s: %w", userID, err)
	}
	return n, nil
}

// MessagesSent returns the user's total sent-message count. Returns 0 if no
// counter exists.
func (s *Store) MessagesSent(ctx context.Context, userID string) (int64, error) {
	n, err := s.client.Get(ctx, MessagesPrefix+userID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stats: get messages for %s: %w", userID, err)
	}
	return n, nil
}
