// Package chathub is the WebSocket side of the chat: per-socket pumps, the hub
// that routes broadcast groups to local sockets, and inbound command dispatch.
package chathub

import (
	"chatcore/backend/internal/delivery"
	"chatcore/backend/internal/identity"
	"chatcore/backend/internal/presence"
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Engine is the part of the delivery engine a socket drives.
type Engine interface {
	SendMessage(ctx context.Context, req delivery.SendRequest) (*delivery.SendResult, error)
	HandleDelivered(ctx context.Context, messageID, roomID uint, senderID, userID string)
	MarkRead(ctx context.Context, roomID uint, userID string, messageIDs []uint) ([]uint, error)
	CatchUp(ctx context.Context, sink delivery.Sink, userID string, roomID uint) int
	AnnouncePresence(ctx context.Context, userID string, online bool)
}

type GatewayConfig struct {
	SendBuffer     int
	InboundRate    float64
	InboundBurst   int
	MaxMessageSize int64
}

// Gateway turns upgraded connections into subscribed clients.
type Gateway struct {
	hub      *Hub
	engine   Engine
	presence presence.Store
	validate *validator.Validate
	cfg      GatewayConfig
	log      *logrus.Entry
}

func NewGateway(hub *Hub, engine Engine, presenceStore presence.Store, cfg GatewayConfig, logger *logrus.Logger) *Gateway {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	return &Gateway{
		hub:      hub,
		engine:   engine,
		presence: presenceStore,
		validate: validator.New(),
		cfg:      cfg,
		log:      logger.WithField("component", "gateway"),
	}
}

// Serve takes ownership of an authenticated connection. roomID 0 opens a
// presence-only connection. The returned client is nil when the hub has stopped.
func (g *Gateway) Serve(conn *websocket.Conn, who identity.Identity, roomID uint) *WebSocketClient {
	c := newWebSocketClient(g, conn, who, roomID)
	if !c.start() {
		return nil
	}
	return c
}
