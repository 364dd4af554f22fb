// Package events publishes domain events for other services. Publishing is
// fire-and-forget: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	TopicChat = "chat.events"

	MessageSent = "chat.message.sent"
	RoomCreated = "chat.room.created"
)

// Envelope is the record written to the topic.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, topic, eventType string, data interface{}) error
}

func newEnvelope(eventType string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return Envelope{Type: eventType, Timestamp: time.Now().UTC(), Data: raw}, nil
}

// StreamPublisher appends envelopes to a Redis stream named after the topic.
type StreamPublisher struct {
	rdb    *redis.Client
	maxLen int64
}

func NewStreamPublisher(rdb *redis.Client, maxLen int64) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, maxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, topic, eventType string, data interface{}) error {
	env, err := newEnvelope(eventType, data)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"type": eventType, "envelope": string(body)},
	}).Err()
}

// LogPublisher writes envelopes to the log. It stands in when no broker is configured.
type LogPublisher struct {
	log *logrus.Entry
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{log: logger.WithField("component", "events")}
}

func (p *LogPublisher) Publish(_ context.Context, topic, eventType string, data interface{}) error {
	env, err := newEnvelope(eventType, data)
	if err != nil {
		return err
	}
	p.log.WithFields(logrus.Fields{"topic": topic, "type": env.Type, "data": string(env.Data)}).Debug("event")
	return nil
}
