package handler

import (
	"chatcore/backend/internal/chaterrors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the web app's origin; tokens guard access.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket authenticates, checks room membership and only then upgrades.
// Without a room parameter the socket is presence-only.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	who, err := h.authenticate(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	var roomID uint
	if raw := c.Query("room"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			h.abortWithError(c, fmt.Errorf("%w: room must be a positive integer", chaterrors.ErrInvalidEvent))
			return
		}
		roomID = uint(id)
		if err := h.engine.CanJoin(c.Request.Context(), roomID, who.UserID); err != nil {
			h.abortWithError(c, err)
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	if h.gateway.Serve(conn, *who, roomID) == nil {
		conn.Close()
	}
}
