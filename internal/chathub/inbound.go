package chathub

import (
	"chatcore/backend/internal/chaterrors"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Inbound frame types.
const (
	InboundSendMessage = "send_message"
	InboundMarkRead    = "mark_read"
)

// InboundEvent is a decoded client frame: *SendMessageCommand, *MarkReadCommand
// or *UnknownEvent.
type InboundEvent interface {
	inboundType() string
}

type SendMessageCommand struct {
	RoomID      uint    `json:"room_id" validate:"required"`
	Text        string  `json:"text" validate:"required_without=MediaID,max=4096"`
	MediaID     *string `json:"media_id" validate:"omitempty,min=1"`
	ClientMsgID *string `json:"client_msg_id" validate:"omitempty,min=1,max=64"`
}

type MarkReadCommand struct {
	RoomID     uint   `json:"room_id" validate:"required"`
	MessageIDs []uint `json:"message_ids" validate:"omitempty,dive,gt=0"`
}

// UnknownEvent is any frame whose type is not understood. It is logged and ignored.
type UnknownEvent struct {
	Type string
}

func (*SendMessageCommand) inboundType() string { return InboundSendMessage }
func (*MarkReadCommand) inboundType() string    { return InboundMarkRead }
func (e *UnknownEvent) inboundType() string     { return e.Type }

// DecodeInbound parses a client frame. Commands without a room_id fall back to
// defaultRoom, the room the connection is bound to.
func DecodeInbound(raw []byte, defaultRoom uint, validate *validator.Validate) (InboundEvent, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", chaterrors.ErrInvalidEvent, err)
	}

	var evt InboundEvent
	switch head.Type {
	case InboundSendMessage:
		cmd := &SendMessageCommand{}
		if err := json.Unmarshal(raw, cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", chaterrors.ErrInvalidEvent, err)
		}
		if cmd.RoomID == 0 {
			cmd.RoomID = defaultRoom
		}
		evt = cmd
	case InboundMarkRead:
		cmd := &MarkReadCommand{}
		if err := json.Unmarshal(raw, cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", chaterrors.ErrInvalidEvent, err)
		}
		if cmd.RoomID == 0 {
			cmd.RoomID = defaultRoom
		}
		evt = cmd
	default:
		return &UnknownEvent{Type: head.Type}, nil
	}

	if err := validate.Struct(evt); err != nil {
		return evt, fmt.Errorf("%w: %v", chaterrors.ErrInvalidEvent, err)
	}
	return evt, nil
}
