// Package presence tracks which users hold at least one live connection.
// Presence is recorded per connection so a user with two sockets stays online
// until both are gone.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store answers "is this user reachable right now". Implementations must be safe
// for concurrent use.
type Store interface {
	MarkOnline(ctx context.Context, userID, connID string) error
	MarkOffline(ctx context.Context, userID, connID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// New builds the store named by backend.
func New(backend string, rdb *redis.Client, ttl time.Duration) (Store, error) {
	switch backend {
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("presence backend %q needs a redis client", backend)
		}
		return NewRedisStore(rdb, ttl), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown presence backend %q", backend)
	}
}
