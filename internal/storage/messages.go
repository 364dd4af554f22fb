package storage

import (
	"chatcore/backend/internal/chaterrors"
	"chatcore/backend/internal/models"
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateMessage persists a message and advances the room's last activity in one
// transaction, then creates a pending receipt for every recipient. Receipt
// failures are logged and do not fail the call: the message is already stored.
func (s *Service) CreateMessage(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	if in.ClientMsgID != nil {
		existing, err := s.findByClientMsgID(ctx, in)
		if err == nil {
			existing.Replayed = true
			return existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var (
		msg  models.Message
		room models.Room
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, in.RoomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return chaterrors.ErrRoomNotFound
			}
			return err
		}
		if !room.HasParticipant(in.SenderID) {
			return chaterrors.ErrSenderNotParticipant
		}

		// Timestamps never go backwards inside a room, even with clock skew between writers.
		now := s.now()
		if room.LastActivity != nil && now.Before(*room.LastActivity) {
			now = *room.LastActivity
		}

		msg = models.Message{
			RoomID:      room.ID,
			SenderID:    in.SenderID,
			Text:        in.Text,
			MediaID:     in.MediaID,
			ClientMsgID: in.ClientMsgID,
			CreatedAt:   now,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return touchLastActivity(tx, room.ID, now)
	})
	if err != nil {
		if in.ClientMsgID != nil && isDuplicateKey(err) {
			// Concurrent resend with the same token won the insert.
			existing, findErr := s.findByClientMsgID(ctx, in)
			if findErr != nil {
				return nil, findErr
			}
			existing.Replayed = true
			return existing, nil
		}
		return nil, err
	}

	receipts := lo.Map(room.Recipients(in.SenderID), func(userID string, _ int) models.Receipt {
		return models.Receipt{MessageID: msg.ID, UserID: userID}
	})
	if len(receipts) > 0 {
		err := s.DB.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&receipts).Error
		if err != nil {
			s.log.WithError(fmt.Errorf("%w: %v", chaterrors.ErrReceiptWriteFailed, err)).
				WithFields(logrus.Fields{"message_id": msg.ID, "room_id": room.ID}).
				Error("failed to create receipts")
		} else {
			msg.Receipts = receipts
		}
	}
	return &msg, nil
}

func (s *Service) findByClientMsgID(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).
		Preload("Receipts").
		Where("room_id = ? AND sender_id = ? AND client_msg_id = ?", in.RoomID, in.SenderID, *in.ClientMsgID).
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessage loads a message together with its receipts.
func (s *Service) GetMessage(ctx context.Context, messageID uint) (*models.Message, error) {
	var msg models.Message
	if err := s.DB.WithContext(ctx).Preload("Receipts").First(&msg, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chaterrors.ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// ListRecent returns up to limit messages of the room in ascending order. When
// beforeID is non-zero only messages older than that message are returned, which
// lets clients page backwards from the oldest message they hold.
func (s *Service) ListRecent(ctx context.Context, roomID uint, limit int, beforeID uint) ([]models.Message, error) {
	q := s.DB.WithContext(ctx).Preload("Receipts").Where("room_id = ?", roomID)
	if beforeID != 0 {
		var cursor models.Message
		if err := s.DB.WithContext(ctx).Select("id", "created_at").
			Where("room_id = ?", roomID).First(&cursor, beforeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, chaterrors.ErrMessageNotFound
			}
			return nil, err
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var msgs []models.Message
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	return lo.Reverse(msgs), nil
}

// ListUnreadFor returns the room's messages userID has not read yet: those with a
// read=false receipt, plus those with no receipt row at all. The user's own
// messages are never included.
func (s *Service) ListUnreadFor(ctx context.Context, roomID uint, userID string) ([]models.Message, error) {
	db := s.DB.WithContext(ctx)
	unread := db.Model(&models.Receipt{}).Select("message_id").Where("user_id = ? AND read = ?", userID, false)
	owned := db.Model(&models.Receipt{}).Select("message_id").Where("user_id = ?", userID)

	var msgs []models.Message
	err := db.Preload("Receipts").
		Where("room_id = ? AND sender_id <> ?", roomID, userID).
		Where(db.Where("id IN (?)", unread).Or("id NOT IN (?)", owned)).
		Order("created_at ASC").Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}

// ListUndeliveredFor returns every message across rooms that still waits for
// delivery to userID, oldest first.
func (s *Service) ListUndeliveredFor(ctx context.Context, userID string) ([]models.Message, error) {
	db := s.DB.WithContext(ctx)
	pending := db.Model(&models.Receipt{}).Select("message_id").Where("user_id = ? AND delivered = ?", userID, false)

	var msgs []models.Message
	err := db.Preload("Receipts").
		Where("id IN (?) AND sender_id <> ?", pending, userID).
		Order("created_at ASC").Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}
