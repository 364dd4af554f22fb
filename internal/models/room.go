package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Room is a conversation between a fixed set of participants.
// Private rooms always hold exactly two participants and carry a PairKey,
// which makes the unordered pair unique across the table.
type Room struct {
	ID uint `gorm:"primaryKey" json:"id"`
	// Name is a display name generated when the room is created.
	Name string `gorm:"size:150" json:"name"`
	// ParticipantIDs is the participant set, stored as text[] on Postgres.
	ParticipantIDs ParticipantSet `json:"participant_ids"`
	IsPrivate      bool           `gorm:"not null;default:true" json:"is_private"`
	// PairKey identifies the unordered participant pair of a private room, nil otherwise.
	PairKey *string `gorm:"size:300;uniqueIndex" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	// LastActivity moves forward on every message in the room.
	LastActivity *time.Time `gorm:"index" json:"last_activity"`

	Members []RoomMember `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
}

// RoomMember indexes rooms by participant so a user's rooms can be listed without
// scanning the participant arrays.
type RoomMember struct {
	RoomID uint   `gorm:"primaryKey"`
	UserID string `gorm:"primaryKey;size:64;index"`
}

// HasParticipant reports whether userID belongs to the room.
func (r *Room) HasParticipant(userID string) bool {
	for _, id := range r.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Recipients returns every participant except the sender.
func (r *Room) Recipients(senderID string) []string {
	out := make([]string, 0, len(r.ParticipantIDs))
	for _, id := range r.ParticipantIDs {
		if id != senderID {
			out = append(out, id)
		}
	}
	return out
}

// PairKey builds the order-independent key of a private room. Each id is length
// prefixed, so ids containing the separator cannot collide.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return fmt.Sprintf("%d:%s|%d:%s", len(pair[0]), pair[0], len(pair[1]), pair[1])
}

// ParticipantSet is a list of user ids persisted as a Postgres text array.
// Other dialects (sqlite in tests) store the same array literal in a text column.
type ParticipantSet []string

func (p ParticipantSet) Value() (driver.Value, error) {
	return pq.StringArray(p).Value()
}

func (p *ParticipantSet) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*p = ParticipantSet(arr)
	return nil
}

// GormDataType is the generic type gorm needs while parsing the schema.
func (ParticipantSet) GormDataType() string {
	return "text"
}

// GormDBDataType picks the column type per dialect.
func (ParticipantSet) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}
