package events_test

import (
	"bytes"
	"chatcore/backend/internal/events"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.JSONFormatter{})

	p := events.NewLogPublisher(logger)
	require.NoError(t, p.Publish(context.Background(), events.TopicChat, events.MessageSent, map[string]int{"message_id": 7}))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, events.TopicChat, line["topic"])
	assert.Equal(t, events.MessageSent, line["type"])
	assert.JSONEq(t, `{"message_id":7}`, line["data"].(string))
}

func TestStreamPublisher(t *testing.T) {
	addr := os.Getenv("CHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHAT_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	stream := "test." + t.Name()
	t.Cleanup(func() { rdb.Del(ctx, stream) })

	p := events.NewStreamPublisher(rdb, 100)
	require.NoError(t, p.Publish(ctx, stream, events.RoomCreated, map[string]uint{"room_id": 3}))

	entries, err := rdb.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, events.RoomCreated, entries[0].Values["type"])

	var env events.Envelope
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["envelope"].(string)), &env))
	assert.JSONEq(t, `{"room_id":3}`, string(env.Data))
}
