package storage_test

import (
	"chatcore/backend/internal/chaterrors"
	"chatcore/backend/internal/models"
	"chatcore/backend/internal/storage/storagetest"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreatePrivateRoom_CreatesOnce(t *testing.T) {
	svc := storagetest.NewService(t)
	ctx := context.Background()

	room, created, err := svc.GetOrCreatePrivateRoom(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, room.IsPrivate)
	assert.Equal(t, "Chat with bob", room.Name)
	assert.ElementsMatch(t, []string{"alice", "bob"}, []string(room.ParticipantIDs))

	again, created, err := svc.GetOrCreatePrivateRoom(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, again.ID)

	var count int64
	require.NoError(t, svc.DB.Model(&models.Room{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetOrCreatePrivateRoom_SeparatorInIDs(t *testing.T) {
	svc := storagetest.NewService(t)
	ctx := context.Background()

	r1, created, err := svc.GetOrCreatePrivateRoom(ctx, "a:b", "c")
	require.NoError(t, err)
	assert.True(t, created)

	r2, created, err := svc.GetOrCreatePrivateRoom(ctx, "a", "b:c")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, r1.ID, r2.ID)
	assert.True(t, r2.HasParticipant("a"))
	assert.True(t, r2.HasParticipant("b:c"))
	assert.False(t, r2.HasParticipant("c"))
}

func TestGetOrCreatePrivateRoom_RejectsSelfAndEmpty(t *testing.T) {
	svc := storagetest.NewService(t)
	ctx := context.Background()

	_, _, err := svc.GetOrCreatePrivateRoom(ctx, "alice", "alice")
	assert.ErrorIs(t, err, chaterrors.ErrInvalidParticipants)

	_, _, err = svc.GetOrCreatePrivateRoom(ctx, "alice", " ")
	assert.ErrorIs(t, err, chaterrors.ErrInvalidParticipants)
}

func TestGetOrCreatePrivateRoom_Concurrent(t *testing.T) {
	svc := storagetest.NewService(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[uint]struct{}{}
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 1 {
				a, b = b, a
			}
			room, isNew, err := svc.GetOrCreatePrivateRoom(ctx, a, b)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[room.ID] = struct{}{}
			if isNew {
				created++
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
}

func TestListRoomsForUser_OrderedByActivity(t *testing.T) {
	svc := storagetest.NewService(t)
	ctx := context.Background()

	first := storagetest.PrivateRoom(t, svc, "alice", "bob")
	second := storagetest.PrivateRoom(t, svc, "alice", "carol")
	storagetest.PrivateRoom(t, svc, "bob", "carol")

	require.NoError(t, svc.TouchLastActivity(ctx, first.ID, time.Now().UTC().Add(time.Hour)))

	rooms, err := svc.ListRoomsForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, first.ID, rooms[0].ID)
	assert.Equal(t, second.ID, rooms[1].ID)
}

func TestTouchLastActivity_OnlyMovesForward(t *testing.T) {
	svc := storagetest.NewService(t)
	ctx := context.Background()
	room := storagetest.PrivateRoom(t, svc, "alice", "bob")

	later := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Minute)

	require.NoError(t, svc.TouchLastActivity(ctx, room.ID, later))
	require.NoError(t, svc.TouchLastActivity(ctx, room.ID, earlier))
	require.NoError(t, svc.TouchLastActivity(ctx, room.ID, later))

	got, err := svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastActivity)
	assert.True(t, got.LastActivity.Equal(later))
}

func TestGetRoom_NotFound(t *testing.T) {
	svc := storagetest.NewService(t)

	_, err := svc.GetRoom(context.Background(), 404)
	assert.ErrorIs(t, err, chaterrors.ErrRoomNotFound)
}
