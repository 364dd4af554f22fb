package presence_test

import (
	"chatcore/backend/internal/presence"
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store presence.Store) {
	ctx := context.Background()
	user := "user-" + uuid.NewString()

	online, err := store.IsOnline(ctx, user)
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, store.MarkOnline(ctx, user, "c1"))
	require.NoError(t, store.MarkOnline(ctx, user, "c2"))
	online, err = store.IsOnline(ctx, user)
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, store.MarkOffline(ctx, user, "c1"))
	online, err = store.IsOnline(ctx, user)
	require.NoError(t, err)
	assert.True(t, online, "second connection keeps the user online")

	require.NoError(t, store.MarkOffline(ctx, user, "c2"))
	online, err = store.IsOnline(ctx, user)
	require.NoError(t, err)
	assert.False(t, online)

	// Offline for an unknown connection is a no-op.
	assert.NoError(t, store.MarkOffline(ctx, user, "missing"))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, presence.NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHAT_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	exerciseStore(t, presence.NewRedisStore(rdb, time.Minute))
}

func TestRedisStore_ExpiredConnectionIsOffline(t *testing.T) {
	addr := os.Getenv("CHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHAT_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	store := presence.NewRedisStore(rdb, 50*time.Millisecond)
	ctx := context.Background()
	user := "user-" + uuid.NewString()

	require.NoError(t, store.MarkOnline(ctx, user, "c1"))
	time.Sleep(120 * time.Millisecond)

	online, err := store.IsOnline(ctx, user)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestNew_SelectsBackend(t *testing.T) {
	store, err := presence.New(presence.BackendMemory, nil, time.Minute)
	require.NoError(t, err)
	assert.IsType(t, &presence.MemoryStore{}, store)

	_, err = presence.New(presence.BackendRedis, nil, time.Minute)
	assert.Error(t, err)

	_, err = presence.New("etcd", nil, time.Minute)
	assert.Error(t, err)
}
