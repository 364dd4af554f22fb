package models

import "time"

// BroadcastRetry is an outbox entry for a group broadcast that could not be published.
// Entries are drained by the broadcast retrier and deleted once published.
type BroadcastRetry struct {
	ID            uint      `gorm:"primaryKey"`
	Group         string    `gorm:"size:200;not null;index"`
	Payload       string    `gorm:"type:text;not null"`
	LastError     string    `gorm:"type:text"`
	Attempts      int       `gorm:"not null;default:0"`
	NextAttemptAt time.Time `gorm:"not null;index"`
	CreatedAt     time.Time
}
