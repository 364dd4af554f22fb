package storage

import (
	"chatcore/backend/internal/models"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RoomRepository owns rooms and their participant sets.
type RoomRepository interface {
	GetOrCreatePrivateRoom(ctx context.Context, requesterID, otherID string) (*models.Room, bool, error)
	GetRoom(ctx context.Context, roomID uint) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error)
	TouchLastActivity(ctx context.Context, roomID uint, ts time.Time) error
}

// MessageStore persists messages and answers history queries.
type MessageStore interface {
	CreateMessage(ctx context.Context, in models.NewMessage) (*models.Message, error)
	GetMessage(ctx context.Context, messageID uint) (*models.Message, error)
	ListRecent(ctx context.Context, roomID uint, limit int, beforeID uint) ([]models.Message, error)
	ListUnreadFor(ctx context.Context, roomID uint, userID string) ([]models.Message, error)
	ListUndeliveredFor(ctx context.Context, userID string) ([]models.Message, error)
}

// ReceiptStore applies receipt transitions. Every mutation recomputes the
// aggregate flags of the touched messages before returning.
type ReceiptStore interface {
	MarkDelivered(ctx context.Context, messageID uint, userID string) (*models.DeliveryState, error)
	MarkReadForRoom(ctx context.Context, roomID uint, userID string, messageIDs []uint) ([]uint, error)
	ListReceipts(ctx context.Context, messageID uint) ([]models.Receipt, error)
}

// OutboxStore keeps broadcasts that failed to publish.
type OutboxStore interface {
	EnqueueBroadcastRetry(ctx context.Context, group string, payload []byte, lastErr error) error
	DueBroadcastRetries(ctx context.Context, now time.Time, limit int) ([]models.BroadcastRetry, error)
	RescheduleBroadcastRetry(ctx context.Context, id uint, lastErr error, next time.Time) error
	DeleteBroadcastRetry(ctx context.Context, id uint) error
	ListBroadcastRetries(ctx context.Context, limit int) ([]models.BroadcastRetry, error)
}

// Storage is everything the chat core persists.
type Storage interface {
	RoomRepository
	MessageStore
	ReceiptStore
	OutboxStore
}

type Service struct {
	DB  *gorm.DB
	log *logrus.Entry
	now func() time.Time
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, logger *logrus.Logger) *Service {
	return &Service{
		DB:  db,
		log: logger.WithField("component", "storage"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests that need fixed timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Migrate creates or updates every table the chat core uses.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(
		&models.Room{},
		&models.RoomMember{},
		&models.Message{},
		&models.Receipt{},
		&models.BroadcastRetry{},
	)
}

// isDuplicateKey detects unique violations. TranslateError covers the drivers that
// support it; the string checks catch the rest.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
