package delivery_test

import (
	"chatcore/backend/internal/chaterrors"
	"chatcore/backend/internal/delivery"
	"chatcore/backend/internal/media"
	"chatcore/backend/internal/models"
	"chatcore/backend/internal/presence"
	"chatcore/backend/internal/storage"
	"chatcore/backend/internal/storage/storagetest"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type sent struct {
	event  interface{}
	groups []string
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []sent
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, event interface{}, groups ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{event: event, groups: groups})
	return nil
}

func (b *recordingBroadcaster) ofType(eventType string) []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sent
	for _, s := range b.sent {
		raw, _ := json.Marshal(s.event)
		var h models.EventHeader
		_ = json.Unmarshal(raw, &h)
		if h.Type == eventType {
			out = append(out, s)
		}
	}
	return out
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic, eventType string, data interface{}) error {
	args := m.Called(ctx, topic, eventType, data)
	return args.Error(0)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) GetMedia(ctx context.Context, mediaID string) (*media.Media, error) {
	args := m.Called(ctx, mediaID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*media.Media), args.Error(1)
}

type sliceSink struct {
	frames [][]byte
	limit  int
}

func (s *sliceSink) Push(payload []byte) bool {
	if s.limit > 0 && len(s.frames) >= s.limit {
		return false
	}
	s.frames = append(s.frames, payload)
	return true
}

type fixture struct {
	store    *storage.Service
	presence *presence.MemoryStore
	bus      *recordingBroadcaster
	events   *MockPublisher
	engine   *delivery.Engine
}

func newFixture(t *testing.T) *fixture {
	store := storagetest.NewService(t)
	return newFixtureWithStore(t, store, store, nil)
}

func newFixtureWithStore(t *testing.T, svc *storage.Service, store storage.Storage, resolver media.Resolver) *fixture {
	f := &fixture{
		store:    svc,
		presence: presence.NewMemoryStore(),
		bus:      &recordingBroadcaster{},
		events:   new(MockPublisher),
	}
	f.events.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.engine = delivery.NewEngine(store, f.presence, f.bus, resolver, f.events,
		delivery.Options{HistoryDefaultLimit: 2, HistoryMaxLimit: 3}, storagetest.Logger())
	return f
}

func TestSendMessage_RecipientOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := storagetest.PrivateRoom(t, f.store, "u1", "u2")
	require.NoError(t, f.presence.MarkOnline(ctx, "u2", "conn-2"))

	res, err := f.engine.SendMessage(ctx, delivery.SendRequest{RoomID: room.ID, SenderID: "u1", Text: "hi", Origin: "ws"})
	require.NoError(t, err)

	require.Len(t, res.Receipts, 1)
	assert.Equal(t, "u2", res.Receipts[0].UserID)
	assert.True(t, res.Receipts[0].Delivered)
	assert.False(t, res.Receipts[0].Read)

	created := f.bus.ofType(models.EventMessageCreated)
	require.Len(t, created, 1)
	assert.ElementsMatch(t, []string{models.RoomGroup(room.ID), "user_u1", "user_u2"}, created[0].groups)
	evt := created[0].event.(models.MessageCreated)
	assert.Equal(t, res.Message.ID, evt.MessageID)
	assert.Equal(t, "hi", evt.Text)

	updated := f.bus.ofType(models.EventReceiptUpdated)
	require.Len(t, updated, 1)
	receipt := updated[0].event.(models.ReceiptUpdated)
	assert.Equal(t, []string{models.RoomGroup(room.ID), "user_u1"}, updated[0].groups)
	require.Len(t, receipt.Receipts, 1)
	assert.True(t, receipt.Receipts[0].Delivered)

	f.events.AssertCalled(t, "Publish", mock.Anything, "chat.events", "chat.message.sent", mock.Anything)
}

func TestSendMessage_RecipientOfflineThenCatchUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := storagetest.PrivateRoom(t, f.store, "u1", "u2")

	res, err := f.engine.SendMessage(ctx, delivery.SendRequest{RoomID: room.ID, SenderID: "u1", Text: "later"})
	require.NoError(t, err)
	require.Len(t, res.Receipts, 1)
	assert.False(t, res.Receipts[0].Delivered)
	assert.Empty(t, f.bus.ofType(models.EventReceiptUpdated))

	sink := &sliceSink{}
	pushed := f.engine.CatchUp(ctx, sink, "u2", room.ID)
	assert.Equal(t, 1, pushed)
	require.Len(t, sink.frames, 1)

	var frame models.MessageCreated
	require.NoError(t, json.Unmarshal(sink.frames[0], &frame))
	assert.Equal(t, models.EventMessageCreated, frame.Type)
	assert.Equal(t, res.Message.ID, frame.MessageID)

	receipts, err := f.store.ListReceipts(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.True(t, receipts[0].Delivered)
	assert.Len(t, f.bus.ofType(models.EventReceiptUpdated), 1)
}

func TestCatchUp_PresenceConnectionCoversAllRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := storagetest.PrivateRoom(t, f.store, "u1", "u2")
	r2 := storagetest.PrivateRoom(t, f.store, "u3", "u2")

	_, err := f.engine.SendMessage(ctx, delivery.SendRequest{RoomID: r1.ID, SenderID: "u1", Text: "a"})
	require.NoError(t, err)
	_, err = f.engine.SendMessage(ctx, delivery.SendRequest{RoomID: r2.ID, SenderID: "u3", Text: "b"})
	require.NoError(t, err)

	sink := &sliceSink{limit: 1}
	assert.Equal(t, 1, f.engine.CatchUp(ctx, sink, "u2", 0), "a closed sink stops the replay")

	assert.Equal(t, 1, f.engine.CatchUp(ctx, &sliceSink{}, "u2", 0), "only the undelivered message is replayed")
}

func TestHandleDelivered_BroadcastsOnlyOnChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := storagetest.PrivateRoom(t, f.store, "u1", "u2")
	res, err := f.engine.SendMessage(ctx, delivery.SendRequest{RoomID: room.ID, SenderID: "u1", Text: "x"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f.engine.HandleDelivered(ctx, res.Message.ID, room.ID, "u1", "u2")
	}
	f.engine.HandleDelivered(ctx, res.Message.ID, room.ID, "u1", "u1")

	assert.Len(t, f.bus.ofType(models.EventReceiptUpdated), 1)
}

func TestMarkRead_RollupAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := storagetest.PrivateRoom(t, f.store, "u1", "u2")

	var ids []uint
	for i := 0; i < 3; i++ {
		res, err := f.engine.SendMessage(ctx, delivery.SendRequest{RoomID: room.ID, SenderID: "u1", Text: "m"})
		require.NoError(t, err)
		ids = append(ids, res.Message.ID)
	}

	updated, err := f.engine.MarkRead(ctx, room.ID, "u2", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, updated)

	read := f.bus.ofType(models.EventReceiptsRead)
	require.Len(t, read, 1)
	assert.Equal(t, models.ReceiptsRead{Type: models.EventReceiptsRead, RoomID: room.ID, UserID: "u2"}, read[0].event)

	updates := f.bus.ofType(models.EventReceiptUpdated)
	require.Len(t, updates, 3)
	var readAt = updates[0].event.(models.ReceiptUpdated).Receipts[0].ReadAt
	for _, u := range updates {
		r := u.event.(models.ReceiptUpdated).Receipts[0]
		assert.True(t, r.Read)
		assert.True(t, r.Delivered)
		assert.True(t, r.ReadAt.Equal(*readAt), "one timestamp for the whole batch")
	}

	for _, id := range ids {
		msg, err := f.store.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.True(t, msg.Read)
		assert.True(t, msg.Delivered)
	}

	again, err := f.engine.MarkRead(ctx, room.ID, "u2", nil)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Len(t, f.bus.ofType(models.EventReceiptsRead), 1)
}

func TestMarkRead_Membership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := storagetest.PrivateRoom(t, f.store, "u1", "u2")

	_, err := f.engine.MarkRead(ctx, room.ID, "u3", nil)
	assert.ErrorIs(t, err, chaterrors.ErrSenderNotParticipant)

	_, err = f.engine.MarkRead(ctx, room.ID+1, "u2", nil)
	assert.ErrorIs(t, err, chaterrors.ErrRoomNotFound)
}

func TestSendMessage_PersistErrorsAreReturned(t *testing.T) {
	f := newFixture(t)
	room := storagetest.PrivateRoom(t, f.store, "u1", "u2")

	_, err := f.engine.SendMessage(context.Background(), delivery.SendRequest{RoomID: room.ID, SenderID: "u9", Text: "x"})
	assert.ErrorIs(t, err, chaterrors.ErrSenderNotParticipant)
	assert.Empty(t, f.bus.ofType(models.EventMessageCreated))
}

// brokenReceipts fails every delivery write.
type brokenReceipts struct {
	*storage.Service
}

func (brokenReceipts) MarkDelivered(context.Context, uint, string) (*models.DeliveryState, error) {
	return nil, errors.New("receipts table locked")
}

func TestSendMessage_ReceiptFailureDoesNotFailSend(t *testing.T) {
	svc := storagetest.NewService(t)
	f := newFixtureWithStore(t, svc, brokenReceipts{svc}, nil)
	ctx := context.Background()
	room := storagetest.PrivateRoom(t, svc, "u1", "u2")
	require.NoError(t, f.presence.MarkOnline(ctx, "u2", "c"))

	res, err := f.engine.SendMessage(ctx, delivery.SendRequest{RoomID: room.ID, SenderID: "u1", Text: "x"})
	require.NoError(t, err)
	require.Len(t, res.Receipts, 1)
	assert.False(t, res.Receipts[0].Delivered)
	assert.Len(t, f.bus.ofType(models.EventMessageCreated), 1)
	assert.Empty(t, f.bus.ofType(models.EventReceiptUpdated))
}

func TestSendMessage_MediaURL(t *testing.T) {
	svc := storagetest.NewService(t)
	resolver := new(MockResolver)
	resolver.On("GetMedia", mock.Anything, "m-7").Return(&media.Media{URL: "https://cdn.example/m-7.jpg"}, nil)
	f := newFixtureWithStore(t, svc, svc, resolver)
	room := storagetest.PrivateRoom(t, svc, "u1", "u2")
	mediaID := "m-7"

	_, err := f.engine.SendMessage(context.Background(), delivery.SendRequest{RoomID: room.ID, SenderID: "u1", MediaID: &mediaID})
	require.NoError(t, err)

	created := f.bus.ofType(models.EventMessageCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "https://cdn.example/m-7.jpg", created[0].event.(models.MessageCreated).MediaURL)
	resolver.AssertExpectations(t)
}

func TestOpenPrivateRoom_PublishesOnCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, created, err := f.engine.OpenPrivateRoom(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := f.engine.OpenPrivateRoom(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, again.ID)

	f.events.AssertNumberOfCalls(t, "Publish", 1)
	f.events.AssertCalled(t, "Publish", mock.Anything, "chat.events", "chat.room.created", mock.Anything)
}

func TestHistory_LimitsAndMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room := storagetest.PrivateRoom(t, f.store, "u1", "u2")
	for i := 0; i < 5; i++ {
		_, err := f.engine.SendMessage(ctx, delivery.SendRequest{RoomID: room.ID, SenderID: "u1", Text: "m"})
		require.NoError(t, err)
	}

	msgs, err := f.engine.History(ctx, room.ID, "u2", 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	msgs, err = f.engine.History(ctx, room.ID, "u2", 100, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	_, err = f.engine.History(ctx, room.ID, "stranger", 0, 0)
	assert.ErrorIs(t, err, chaterrors.ErrSenderNotParticipant)
}

func TestAnnouncePresence_TargetsPeers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storagetest.PrivateRoom(t, f.store, "u1", "u2")
	storagetest.PrivateRoom(t, f.store, "u1", "u3")

	f.engine.AnnouncePresence(ctx, "u1", true)

	online := f.bus.ofType(models.EventPresenceOnline)
	require.Len(t, online, 1)
	assert.ElementsMatch(t, []string{"user_u2", "user_u3"}, online[0].groups)

	f.engine.AnnouncePresence(ctx, "loner", false)
	assert.Empty(t, f.bus.ofType(models.EventPresenceOffline))
}
