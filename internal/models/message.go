package models

import "time"

// Message is a single chat message. The Delivered and Read flags are aggregates
// derived from the message's receipts and are only ever moved from false to true.
type Message struct {
	ID     uint  `gorm:"primaryKey" json:"id"`
	RoomID uint  `gorm:"not null;index:idx_room_created,priority:1;uniqueIndex:idx_client_msg,priority:1" json:"room_id"`
	Room   *Room `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	SenderID string `gorm:"size:64;not null;index;uniqueIndex:idx_client_msg,priority:2" json:"sender_id"`
	// Text may be empty when the message only carries media.
	Text    string  `gorm:"type:text" json:"text"`
	MediaID *string `gorm:"size:64" json:"media_id"`
	// ClientMsgID is the sender's idempotency token. Resending with the same token
	// returns the stored message instead of creating a new one.
	ClientMsgID *string `gorm:"size:128;uniqueIndex:idx_client_msg,priority:3" json:"client_msg_id,omitempty"`

	// CreatedAt is assigned by the store and never decreases within a room.
	CreatedAt time.Time `gorm:"index:idx_room_created,priority:2" json:"timestamp"`

	Delivered   bool       `gorm:"not null;default:false" json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at"`
	Read        bool       `gorm:"not null;default:false" json:"read"`
	Seen        bool       `gorm:"not null;default:false" json:"seen"`
	ReadAt      *time.Time `json:"read_at"`

	Receipts []Receipt `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"receipts,omitempty"`

	// Replayed is set when CreateMessage matched an existing ClientMsgID.
	Replayed bool `gorm:"-" json:"-"`
}

// Receipt tracks delivery and read state of one message for one recipient.
type Receipt struct {
	MessageID   uint       `gorm:"primaryKey;autoIncrement:false" json:"message_id"`
	UserID      string     `gorm:"primaryKey;size:64;index" json:"user_id"`
	Delivered   bool       `gorm:"not null;default:false" json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at"`
	Read        bool       `gorm:"not null;default:false" json:"read"`
	ReadAt      *time.Time `json:"read_at"`
}

// NewMessage is the input of CreateMessage.
type NewMessage struct {
	RoomID      uint
	SenderID    string
	Text        string
	MediaID     *string
	ClientMsgID *string
}

// DeliveryState is the outcome of marking a message delivered to one recipient.
type DeliveryState struct {
	MessageID   uint
	UserID      string
	DeliveredAt time.Time
	// Changed is false when the receipt was already delivered.
	Changed bool
	// MessageDelivered reports the aggregate after the update.
	MessageDelivered   bool
	MessageDeliveredAt *time.Time
}
