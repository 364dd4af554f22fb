// Package handler exposes the chat over HTTP: the WebSocket upgrade and the REST
// endpoints that share the delivery engine with it.
package handler

import (
	"chatcore/backend/internal/chaterrors"
	"chatcore/backend/internal/chathub"
	"chatcore/backend/internal/delivery"
	"chatcore/backend/internal/identity"
	"chatcore/backend/internal/metrics"
	"chatcore/backend/internal/models"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Engine is what the HTTP surface needs from the delivery engine.
type Engine interface {
	SendMessage(ctx context.Context, req delivery.SendRequest) (*delivery.SendResult, error)
	MarkRead(ctx context.Context, roomID uint, userID string, messageIDs []uint) ([]uint, error)
	History(ctx context.Context, roomID uint, userID string, limit int, beforeID uint) ([]models.Message, error)
	OpenPrivateRoom(ctx context.Context, requesterID, otherID string) (*models.Room, bool, error)
	Rooms(ctx context.Context, userID string) ([]models.Room, error)
	CanJoin(ctx context.Context, roomID uint, userID string) error
}

// TokenIssuer signs development tokens.
type TokenIssuer interface {
	GenerateToken(userID, name string, ttl time.Duration) (string, error)
}

type Handler struct {
	engine   Engine
	gateway  *chathub.Gateway
	verifier identity.Verifier
	// tokens is nil unless development tokens are enabled.
	tokens TokenIssuer
	log    *logrus.Entry
}

func NewHandler(engine Engine, gateway *chathub.Gateway, verifier identity.Verifier, tokens TokenIssuer, logger *logrus.Logger) *Handler {
	return &Handler{
		engine:   engine,
		gateway:  gateway,
		verifier: verifier,
		tokens:   tokens,
		log:      logger.WithField("component", "http"),
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(metrics.GinMiddleware())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", h.ServeWebSocket)
	if h.tokens != nil {
		r.GET("/token", h.IssueDevToken)
	}

	api := r.Group("/api", h.RequireIdentity())
	api.POST("/messages", h.CreateMessage)
	api.GET("/messages/last", h.LastMessages)
	api.POST("/messages/mark_read", h.MarkRead)
	api.POST("/rooms/private", h.GetOrCreatePrivateRoom)
	api.GET("/rooms", h.ListRooms)
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// abortWithError answers with the status and reason code of err.
func (h *Handler) abortWithError(c *gin.Context, err error) {
	status := chaterrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": chaterrors.Code(err), "message": err.Error()})
}
