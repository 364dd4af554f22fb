package handler

import (
	"chatcore/backend/internal/chaterrors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type privateRoomRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// GetOrCreatePrivateRoom answers 201 when the room was created by this call and
// 200 when it already existed.
func (h *Handler) GetOrCreatePrivateRoom(c *gin.Context) {
	var req privateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithError(c, fmt.Errorf("%w: %v", chaterrors.ErrInvalidParticipants, err))
		return
	}

	room, created, err := h.engine.OpenPrivateRoom(c.Request.Context(), caller(c).UserID, req.UserID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, room)
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.engine.Rooms(c.Request.Context(), caller(c).UserID)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}
