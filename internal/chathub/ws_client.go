package chathub

import (
	"chatcore/backend/internal/chaterrors"
	"chatcore/backend/internal/delivery"
	"chatcore/backend/internal/identity"
	"chatcore/backend/internal/metrics"
	"chatcore/backend/internal/models"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// presenceWriteTimeout bounds presence writes done outside the connection context.
	presenceWriteTimeout = 5 * time.Second
)

// WebSocketClient is one live socket. readPump decodes inbound commands,
// writePump owns every write to the connection.
type WebSocketClient struct {
	id       string
	identity identity.Identity
	roomID   uint

	conn    *websocket.Conn
	gateway *Gateway
	send    chan Outbound
	// direct carries frames addressed to this socket only: catch-up and error frames.
	direct  chan []byte
	limiter *rate.Limiter

	state     atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	downOnce  sync.Once

	log *logrus.Entry
}

func newWebSocketClient(g *Gateway, conn *websocket.Conn, who identity.Identity, roomID uint) *WebSocketClient {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &WebSocketClient{
		id:       id,
		identity: who,
		roomID:   roomID,
		conn:     conn,
		gateway:  g,
		send:     make(chan Outbound, g.cfg.SendBuffer),
		direct:   make(chan []byte),
		limiter:  newLimiter(g.cfg.InboundRate, g.cfg.InboundBurst),
		ctx:      ctx,
		cancel:   cancel,
		log: g.log.WithFields(logrus.Fields{
			"conn_id": id,
			"user_id": who.UserID,
			"room_id": roomID,
		}),
	}
	c.state.Store(int32(StateAuthenticated))
	return c
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (c *WebSocketClient) ID() string                      { return c.id }
func (c *WebSocketClient) UserID() string                  { return c.identity.UserID }
func (c *WebSocketClient) RoomID() uint                    { return c.roomID }
func (c *WebSocketClient) Groups() []string                { return groupsFor(c.identity.UserID, c.roomID) }
func (c *WebSocketClient) GetSendChannel() chan<- Outbound { return c.send }
func (c *WebSocketClient) State() State                    { return State(c.state.Load()) }

// Close is called by the Hub once it has dropped the client. Closing send stops
// writePump, which closes the socket and so ends readPump.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Push queues a frame for this socket only. It blocks until writePump takes it
// and reports false once the connection is going away.
func (c *WebSocketClient) Push(payload []byte) bool {
	select {
	case c.direct <- payload:
		return true
	case <-c.ctx.Done():
		return false
	}
}

var _ delivery.Sink = (*WebSocketClient)(nil)

// start moves the connection to SUBSCRIBED and launches both pumps.
func (c *WebSocketClient) start() bool {
	if !c.gateway.hub.Register(c) {
		c.log.Warn("hub stopped, refusing connection")
		c.shutdown()
		return false
	}
	if err := c.gateway.presence.MarkOnline(c.ctx, c.identity.UserID, c.id); err != nil {
		c.log.WithError(err).Warn("mark online failed")
	}
	c.state.Store(int32(StateSubscribed))
	c.log.Info("connection subscribed")

	go c.writePump()
	go c.readPump()
	return true
}

// shutdown runs once per connection whichever side notices the disconnect first.
func (c *WebSocketClient) shutdown() {
	c.downOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.cancel()
		c.gateway.hub.Unregister(c)
		c.conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
		defer cancel()
		userID := c.identity.UserID
		if err := c.gateway.presence.MarkOffline(ctx, userID, c.id); err != nil {
			c.log.WithError(err).Warn("mark offline failed")
		}
		// Another socket of the same user keeps them online.
		online, err := c.gateway.presence.IsOnline(ctx, userID)
		if err == nil && !online {
			c.gateway.engine.AnnouncePresence(ctx, userID, false)
		}
		c.log.Info("connection closed")
	})
}

func (c *WebSocketClient) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(c.gateway.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.gateway.engine.AnnouncePresence(c.ctx, c.identity.UserID, true)
	if n := c.gateway.engine.CatchUp(c.ctx, c, c.identity.UserID, c.roomID); n > 0 {
		c.log.WithField("frames", n).Debug("catch-up replayed")
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("error reading message")
			}
			return
		}

		evt, err := DecodeInbound(raw, c.roomID, c.gateway.validate)
		// Only send_message failures are answered with an error frame.
		send, isSend := evt.(*SendMessageCommand)
		var clientMsgID *string
		if isSend {
			clientMsgID = send.ClientMsgID
		}

		if !c.limiter.Allow() {
			metrics.InboundEvent("rate_limited")
			c.log.Debug("inbound frame rate limited")
			if isSend {
				c.pushError(chaterrors.ErrRateLimited, clientMsgID)
			}
			continue
		}
		if err != nil {
			metrics.InboundEvent("invalid")
			c.log.WithError(err).Debug("invalid inbound frame")
			if isSend {
				c.pushError(err, clientMsgID)
			}
			continue
		}
		metrics.InboundEvent(evt.inboundType())
		c.handle(evt)
	}
}

func (c *WebSocketClient) handle(evt InboundEvent) {
	switch e := evt.(type) {
	case *SendMessageCommand:
		// The message and its receipts must persist even if the socket drops mid-send.
		ctx := context.WithoutCancel(c.ctx)
		_, err := c.gateway.engine.SendMessage(ctx, delivery.SendRequest{
			RoomID:      e.RoomID,
			SenderID:    c.identity.UserID,
			Text:        e.Text,
			MediaID:     e.MediaID,
			ClientMsgID: e.ClientMsgID,
			Origin:      "ws",
		})
		if err != nil {
			c.log.WithError(err).WithField("target_room", e.RoomID).Warn("send_message failed")
			c.pushError(err, e.ClientMsgID)
		}
	case *MarkReadCommand:
		if _, err := c.gateway.engine.MarkRead(c.ctx, e.RoomID, c.identity.UserID, e.MessageIDs); err != nil {
			c.log.WithError(err).WithField("target_room", e.RoomID).Warn("mark_read failed")
		}
	case *UnknownEvent:
		c.log.WithField("type", e.Type).Debug("unknown inbound event ignored")
	default:
		c.log.Errorf("unhandled inbound event %T", evt)
	}
}

func (c *WebSocketClient) pushError(err error, clientMsgID *string) {
	frame := models.ErrorFrame{
		Type:        models.EventError,
		Code:        chaterrors.Code(err),
		Message:     err.Error(),
		ClientMsgID: clientMsgID,
	}
	if errors.Is(err, chaterrors.ErrInvalidEvent) {
		frame.Message = chaterrors.ErrInvalidEvent.Error()
	}
	payload, mErr := json.Marshal(frame)
	if mErr != nil {
		return
	}
	c.Push(payload)
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case out, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub dropped us.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, out.Payload); err != nil {
				return
			}
			c.afterWrite(out)

		case payload := <-c.direct:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if err := c.gateway.presence.MarkOnline(c.ctx, c.identity.UserID, c.id); err != nil {
				c.log.WithError(err).Warn("presence refresh failed")
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// afterWrite acknowledges delivery of a message.created frame that reached this
// socket and was sent by someone else.
func (c *WebSocketClient) afterWrite(out Outbound) {
	h := out.Header
	if h.Type != models.EventMessageCreated || h.SenderID == c.identity.UserID || h.MessageID == 0 {
		return
	}
	c.gateway.engine.HandleDelivered(context.WithoutCancel(c.ctx), h.MessageID, h.RoomID, h.SenderID, c.identity.UserID)
}
