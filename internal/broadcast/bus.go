// Package broadcast fans payloads out to named groups across gateway processes.
// A group is either a room group ("chat_<room>") or a personal group ("user_<user>").
package broadcast

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Message is one payload published to a group.
type Message struct {
	Group   string
	Payload []byte
}

// Handler receives every message published on the bus.
type Handler func(Message)

// Bus is a process-wide publish/subscribe channel keyed by group name.
type Bus interface {
	Publish(ctx context.Context, group string, payload []byte) error
	// Subscribe delivers every published message to handler until ctx is done.
	Subscribe(ctx context.Context, handler Handler) error
}

const (
	BackendRedis = "redis"
	BackendLocal = "local"
)

// New builds the bus named by backend.
func New(backend string, rdb *redis.Client, logger *logrus.Logger) (Bus, error) {
	switch backend {
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("bus backend %q needs a redis client", backend)
		}
		return NewRedisBus(rdb, logger), nil
	case BackendLocal:
		return NewLocalBus(DefaultLocalBuffer), nil
	default:
		return nil, fmt.Errorf("unknown bus backend %q", backend)
	}
}
