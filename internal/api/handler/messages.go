package handler

import (
	"chatcore/backend/internal/chaterrors"
	"chatcore/backend/internal/delivery"
	"chatcore/backend/internal/models"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type createMessageRequest struct {
	Room        uint    `json:"room" binding:"required"`
	Text        string  `json:"text" binding:"required_without=MediaID,max=4096"`
	MediaID     *string `json:"media_id" binding:"omitempty,min=1"`
	ClientMsgID *string `json:"client_msg_id" binding:"omitempty,min=1,max=64"`
}

type createMessageResponse struct {
	Message  *models.Message      `json:"message"`
	Receipts []models.ReceiptView `json:"receipts"`
}

func (h *Handler) CreateMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithError(c, fmt.Errorf("%w: %v", chaterrors.ErrInvalidEvent, err))
		return
	}

	res, err := h.engine.SendMessage(c.Request.Context(), delivery.SendRequest{
		RoomID:      req.Room,
		SenderID:    caller(c).UserID,
		Text:        req.Text,
		MediaID:     req.MediaID,
		ClientMsgID: req.ClientMsgID,
		Origin:      "http",
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Message.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, createMessageResponse{Message: res.Message, Receipts: models.ReceiptViews(res.Receipts)})
}

type lastMessagesQuery struct {
	Room   uint `form:"room" binding:"required"`
	Limit  int  `form:"limit" binding:"gte=0"`
	Before uint `form:"before"`
}

func (h *Handler) LastMessages(c *gin.Context) {
	var q lastMessagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.abortWithError(c, fmt.Errorf("%w: %v", chaterrors.ErrInvalidEvent, err))
		return
	}

	msgs, err := h.engine.History(c.Request.Context(), q.Room, caller(c).UserID, q.Limit, q.Before)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type markReadRequest struct {
	Room       uint   `json:"room" binding:"required"`
	MessageIDs []uint `json:"message_ids"`
}

func (h *Handler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.abortWithError(c, fmt.Errorf("%w: %v", chaterrors.ErrInvalidEvent, err))
		return
	}

	updated, err := h.engine.MarkRead(c.Request.Context(), req.Room, caller(c).UserID, req.MessageIDs)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}
