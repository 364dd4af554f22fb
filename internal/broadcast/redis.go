package broadcast

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const channelPrefix = "chat:group:"

// RedisBus maps every group onto a Redis pub/sub channel. Each gateway process
// holds one pattern subscription over all groups and filters locally.
type RedisBus struct {
	rdb *redis.Client
	log *logrus.Entry
}

func NewRedisBus(rdb *redis.Client, logger *logrus.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, log: logger.WithField("component", "redis-bus")}
}

func (b *RedisBus) Publish(ctx context.Context, group string, payload []byte) error {
	return b.rdb.Publish(ctx, channelPrefix+group, payload).Err()
}

// Subscribe keeps a pattern subscription open until ctx is cancelled,
// resubscribing with exponential backoff when Redis is unreachable.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	expo := backoff.NewExponentialBackOff()
	expo.MaxInterval = 30 * time.Second
	expo.MaxElapsedTime = 0

	session := func() error {
		ps := b.rdb.PSubscribe(ctx, channelPrefix+"*")
		defer ps.Close()

		if _, err := ps.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		expo.Reset()
		b.log.Info("subscribed to broadcast groups")

		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case msg, ok := <-ch:
				if !ok {
					return errors.New("redis subscription channel closed")
				}
				handler(Message{
					Group:   strings.TrimPrefix(msg.Channel, channelPrefix),
					Payload: []byte(msg.Payload),
				})
			}
		}
	}

	err := backoff.RetryNotify(session, backoff.WithContext(expo, ctx), func(err error, wait time.Duration) {
		b.log.WithError(err).WithField("retry_in", wait).Warn("broadcast subscription lost")
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
