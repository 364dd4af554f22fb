// Package delivery implements message sending, fan-out and receipt bookkeeping.
// It is shared by the WebSocket gateway and the HTTP API so both paths create
// messages and mutate receipts the same way.
package delivery

import (
	"chatcore/backend/internal/chaterrors"
	"chatcore/backend/internal/events"
	"chatcore/backend/internal/media"
	"chatcore/backend/internal/metrics"
	"chatcore/backend/internal/models"
	"chatcore/backend/internal/presence"
	"chatcore/backend/internal/storage"
	"context"
	"encoding/json"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Broadcaster publishes an event to broadcast groups.
type Broadcaster interface {
	Broadcast(ctx context.Context, event interface{}, groups ...string) error
}

// Sink receives catch-up payloads for a single connection. Push reports false
// once the connection can no longer accept frames.
type Sink interface {
	Push(payload []byte) bool
}

// Options bound history queries.
type Options struct {
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

type Engine struct {
	store       storage.Storage
	receipts    *ReceiptEngine
	presence    presence.Store
	broadcaster Broadcaster
	media       media.Resolver
	events      events.Publisher
	opts        Options
	log         *logrus.Entry
}

func NewEngine(
	store storage.Storage,
	presenceStore presence.Store,
	broadcaster Broadcaster,
	resolver media.Resolver,
	publisher events.Publisher,
	opts Options,
	logger *logrus.Logger,
) *Engine {
	if opts.HistoryDefaultLimit <= 0 {
		opts.HistoryDefaultLimit = 50
	}
	if opts.HistoryMaxLimit < opts.HistoryDefaultLimit {
		opts.HistoryMaxLimit = opts.HistoryDefaultLimit
	}
	if resolver == nil {
		resolver = media.NopResolver{}
	}
	return &Engine{
		store:       store,
		receipts:    NewReceiptEngine(store, logger),
		presence:    presenceStore,
		broadcaster: broadcaster,
		media:       resolver,
		events:      publisher,
		opts:        opts,
		log:         logger.WithField("component", "delivery"),
	}
}

// SendRequest is one message submission.
type SendRequest struct {
	RoomID      uint
	SenderID    string
	Text        string
	MediaID     *string
	ClientMsgID *string
	// Origin labels metrics: "ws" or "http".
	Origin string
}

// SendResult is the stored message and its receipts right after immediate delivery.
type SendResult struct {
	Message  *models.Message
	Receipts []models.Receipt
}

// SendMessage persists the message, fans it out to the room group and to every
// participant's personal group, then marks it delivered to recipients that are
// online right now. Only persistence errors are returned; fan-out and receipt
// failures are logged and recovered by the outbox and by catch-up on reconnect.
func (e *Engine) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	msg, err := e.store.CreateMessage(ctx, models.NewMessage{
		RoomID:      req.RoomID,
		SenderID:    req.SenderID,
		Text:        req.Text,
		MediaID:     req.MediaID,
		ClientMsgID: req.ClientMsgID,
	})
	if err != nil {
		return nil, err
	}
	metrics.MessageCreated(req.Origin, msg.Replayed)
	log := e.log.WithFields(logrus.Fields{"message_id": msg.ID, "room_id": msg.RoomID, "sender_id": msg.SenderID})

	groups := []string{models.RoomGroup(msg.RoomID)}
	var recipients []string
	room, err := e.store.GetRoom(ctx, msg.RoomID)
	if err != nil {
		log.WithError(err).Warn("room lookup after create failed; fanning out to room group only")
	} else {
		for _, p := range room.ParticipantIDs {
			groups = append(groups, models.UserGroup(p))
		}
		recipients = room.Recipients(msg.SenderID)
	}

	created := models.NewMessageCreated(msg, e.mediaURL(ctx, msg))
	if err := e.broadcaster.Broadcast(ctx, created, groups...); err != nil {
		log.WithError(err).Warn("message.created broadcast incomplete")
	}

	// Persist first, then presence, then mark delivered.
	for _, recipient := range recipients {
		online, err := e.presence.IsOnline(ctx, recipient)
		if err != nil {
			log.WithError(err).WithField("recipient", recipient).Warn("presence check failed")
			continue
		}
		if online {
			e.HandleDelivered(ctx, msg.ID, msg.RoomID, msg.SenderID, recipient)
		}
	}

	if !msg.Replayed {
		e.publish(ctx, events.MessageSent, created)
	}

	return &SendResult{Message: msg, Receipts: e.receipts.Snapshot(ctx, msg.ID)}, nil
}

// HandleDelivered records that a message reached a live connection of userID and
// tells the room when the receipt changed. Repeated calls are harmless.
func (e *Engine) HandleDelivered(ctx context.Context, messageID, roomID uint, senderID, userID string) {
	if userID == senderID {
		return
	}
	state, ok := e.receipts.MarkDelivered(ctx, messageID, userID)
	if !ok || !state.Changed {
		return
	}
	e.broadcastReceipts(ctx, messageID, roomID, senderID, e.receipts.Snapshot(ctx, messageID))
}

// MarkRead marks the caller's unread receipts in the room as read and returns the
// affected message ids. Membership errors are returned; receipt write failures
// yield an empty result.
func (e *Engine) MarkRead(ctx context.Context, roomID uint, userID string, messageIDs []uint) ([]uint, error) {
	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, chaterrors.ErrSenderNotParticipant
	}

	updated := e.receipts.MarkReadForRoom(ctx, roomID, userID, messageIDs)
	if len(updated) == 0 {
		return []uint{}, nil
	}

	read := models.ReceiptsRead{Type: models.EventReceiptsRead, RoomID: roomID, UserID: userID}
	if err := e.broadcaster.Broadcast(ctx, read, models.RoomGroup(roomID)); err != nil {
		e.log.WithError(err).WithField("room_id", roomID).Warn("receipts.read broadcast incomplete")
	}
	for _, id := range updated {
		msg, err := e.store.GetMessage(ctx, id)
		if err != nil {
			e.log.WithError(err).WithField("message_id", id).Warn("reload after read failed")
			continue
		}
		e.broadcastReceipts(ctx, msg.ID, msg.RoomID, msg.SenderID, msg.Receipts)
	}
	return updated, nil
}

func (e *Engine) broadcastReceipts(ctx context.Context, messageID, roomID uint, senderID string, receipts []models.Receipt) {
	evt := models.ReceiptUpdated{
		Type:      models.EventReceiptUpdated,
		MessageID: messageID,
		RoomID:    roomID,
		SenderID:  senderID,
		Receipts:  models.ReceiptViews(receipts),
	}
	if err := e.broadcaster.Broadcast(ctx, evt, models.RoomGroup(roomID), models.UserGroup(senderID)); err != nil {
		e.log.WithError(err).WithField("message_id", messageID).Warn("receipt.updated broadcast incomplete")
	}
}

// CatchUp replays what userID missed while offline straight to one connection,
// then acknowledges delivery of each replayed message. A room connection gets
// the room's unread messages; a presence connection (roomID 0) gets every
// undelivered message across rooms. It returns the number of frames pushed.
func (e *Engine) CatchUp(ctx context.Context, sink Sink, userID string, roomID uint) int {
	var (
		msgs []models.Message
		err  error
	)
	if roomID != 0 {
		msgs, err = e.store.ListUnreadFor(ctx, roomID, userID)
	} else {
		msgs, err = e.store.ListUndeliveredFor(ctx, userID)
	}
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "room_id": roomID}).Warn("catch-up query failed")
		return 0
	}

	pushed := 0
	for i := range msgs {
		msg := &msgs[i]
		payload, err := json.Marshal(models.NewMessageCreated(msg, e.mediaURL(ctx, msg)))
		if err != nil {
			continue
		}
		if !sink.Push(payload) {
			break
		}
		pushed++
		e.HandleDelivered(ctx, msg.ID, msg.RoomID, msg.SenderID, userID)
	}
	return pushed
}

// OpenPrivateRoom returns the private room between requester and other.
func (e *Engine) OpenPrivateRoom(ctx context.Context, requesterID, otherID string) (*models.Room, bool, error) {
	room, created, err := e.store.GetOrCreatePrivateRoom(ctx, requesterID, otherID)
	if err != nil {
		return nil, false, err
	}
	if created {
		e.publish(ctx, events.RoomCreated, map[string]interface{}{
			"room_id":      room.ID,
			"participants": room.ParticipantIDs,
			"is_private":   room.IsPrivate,
		})
	}
	return room, created, nil
}

// Rooms lists the caller's rooms.
func (e *Engine) Rooms(ctx context.Context, userID string) ([]models.Room, error) {
	return e.store.ListRoomsForUser(ctx, userID)
}

// History returns the last messages of a room the caller belongs to.
func (e *Engine) History(ctx context.Context, roomID uint, userID string, limit int, beforeID uint) ([]models.Message, error) {
	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, chaterrors.ErrSenderNotParticipant
	}
	if limit <= 0 {
		limit = e.opts.HistoryDefaultLimit
	}
	if limit > e.opts.HistoryMaxLimit {
		limit = e.opts.HistoryMaxLimit
	}
	return e.store.ListRecent(ctx, roomID, limit, beforeID)
}

// CanJoin checks that userID may bind a connection to roomID.
func (e *Engine) CanJoin(ctx context.Context, roomID uint, userID string) error {
	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(userID) {
		return chaterrors.ErrSenderNotParticipant
	}
	return nil
}

// AnnouncePresence tells every peer sharing a room with userID that the user went
// online or offline.
func (e *Engine) AnnouncePresence(ctx context.Context, userID string, online bool) {
	rooms, err := e.store.ListRoomsForUser(ctx, userID)
	if err != nil {
		e.log.WithError(err).WithField("user_id", userID).Warn("presence peers lookup failed")
		return
	}
	var groups []string
	for _, room := range rooms {
		for _, peer := range room.Recipients(userID) {
			groups = append(groups, models.UserGroup(peer))
		}
	}
	if len(groups) == 0 {
		return
	}

	evtType := models.EventPresenceOffline
	if online {
		evtType = models.EventPresenceOnline
	}
	evt := models.PresenceChanged{Type: evtType, UserID: userID}
	if err := e.broadcaster.Broadcast(ctx, evt, lo.Uniq(groups)...); err != nil {
		e.log.WithError(err).WithField("user_id", userID).Warn("presence broadcast incomplete")
	}
}

func (e *Engine) mediaURL(ctx context.Context, msg *models.Message) string {
	if msg.MediaID == nil || *msg.MediaID == "" {
		return ""
	}
	m, err := e.media.GetMedia(ctx, *msg.MediaID)
	if err != nil {
		e.log.WithError(err).WithField("media_id", *msg.MediaID).Warn("media lookup failed")
		return ""
	}
	if m == nil {
		return ""
	}
	return m.URL
}

func (e *Engine) publish(ctx context.Context, eventType string, data interface{}) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, events.TopicChat, eventType, data); err != nil {
		e.log.WithError(err).WithField("event", eventType).Warn("event publish failed")
	}
}
