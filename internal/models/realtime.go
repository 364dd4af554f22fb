package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Outbound event types pushed to sockets.
const (
	EventMessageCreated  = "message.created"
	EventReceiptUpdated  = "receipt.updated"
	EventReceiptsRead    = "receipts.read"
	EventPresenceOnline  = "presence.online"
	EventPresenceOffline = "presence.offline"
	EventError           = "error"
)

const (
	roomGroupPrefix = "chat_"
	userGroupPrefix = "user_"
)

// RoomGroup is the broadcast group of every socket bound to a room.
func RoomGroup(roomID uint) string {
	return roomGroupPrefix + strconv.FormatUint(uint64(roomID), 10)
}

// UserGroup is the personal broadcast group of a user.
func UserGroup(userID string) string {
	return userGroupPrefix + userID
}

// IsUserGroup reports whether group is a personal group.
func IsUserGroup(group string) bool {
	return strings.HasPrefix(group, userGroupPrefix)
}

// MessageCreated announces a persisted message.
type MessageCreated struct {
	Type        string    `json:"type"`
	MessageID   uint      `json:"message_id"`
	SenderID    string    `json:"sender_id"`
	Text        string    `json:"text"`
	RoomID      uint      `json:"room_id"`
	MediaID     *string   `json:"media_id"`
	MediaURL    string    `json:"media_url,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ClientMsgID *string   `json:"client_msg_id,omitempty"`
}

// NewMessageCreated builds the message.created payload for msg.
func NewMessageCreated(msg *Message, mediaURL string) MessageCreated {
	return MessageCreated{
		Type:        EventMessageCreated,
		MessageID:   msg.ID,
		SenderID:    msg.SenderID,
		Text:        msg.Text,
		RoomID:      msg.RoomID,
		MediaID:     msg.MediaID,
		MediaURL:    mediaURL,
		Timestamp:   msg.CreatedAt,
		ClientMsgID: msg.ClientMsgID,
	}
}

// ReceiptView is the wire form of a receipt.
type ReceiptView struct {
	UserID      string     `json:"user_id"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"read_at"`
}

// ReceiptViews converts stored receipts to their wire form.
func ReceiptViews(receipts []Receipt) []ReceiptView {
	return lo.Map(receipts, func(r Receipt, _ int) ReceiptView {
		return ReceiptView{
			UserID:      r.UserID,
			Delivered:   r.Delivered,
			DeliveredAt: r.DeliveredAt,
			Read:        r.Read,
			ReadAt:      r.ReadAt,
		}
	})
}

// ReceiptUpdated carries the full receipt list of one message.
type ReceiptUpdated struct {
	Type      string        `json:"type"`
	MessageID uint          `json:"message_id"`
	RoomID    uint          `json:"room_id"`
	SenderID  string        `json:"sender_id"`
	Receipts  []ReceiptView `json:"receipts"`
}

// ReceiptsRead tells room members that UserID has read up to now.
type ReceiptsRead struct {
	Type   string `json:"type"`
	RoomID uint   `json:"room_id"`
	UserID string `json:"user_id"`
}

// PresenceChanged is pushed to the personal groups of a user's room peers.
type PresenceChanged struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// ErrorFrame reports a failed inbound command back to the socket that sent it.
type ErrorFrame struct {
	Type        string  `json:"type"`
	Code        string  `json:"code"`
	Message     string  `json:"message"`
	ClientMsgID *string `json:"client_msg_id,omitempty"`
}

// EventHeader holds the routing fields shared by outbound events. The gateway
// decodes only this much to decide where and whether to push a payload.
type EventHeader struct {
	Type      string `json:"type"`
	MessageID uint   `json:"message_id"`
	RoomID    uint   `json:"room_id"`
	SenderID  string `json:"sender_id"`
	UserID    string `json:"user_id"`
}
