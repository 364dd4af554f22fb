package storage

import (
	"chatcore/backend/internal/chaterrors"
	"chatcore/backend/internal/models"
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MarkDelivered moves userID's receipt of messageID to delivered. A receipt
// already delivered keeps its first timestamp and the result reports Changed=false.
// A missing receipt is created first, so a replayed message can always be acked.
func (s *Service) MarkDelivered(ctx context.Context, messageID uint, userID string) (*models.DeliveryState, error) {
	state := &models.DeliveryState{MessageID: messageID, UserID: userID}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.Preload("Room").First(&msg, messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return chaterrors.ErrMessageNotFound
			}
			return err
		}
		if msg.Room == nil || !msg.Room.HasParticipant(userID) || msg.SenderID == userID {
			return chaterrors.ErrSenderNotParticipant
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Receipt{MessageID: messageID, UserID: userID}).Error; err != nil {
			return err
		}

		now := s.now()
		res := tx.Model(&models.Receipt{}).
			Where("message_id = ? AND user_id = ? AND delivered = ?", messageID, userID, false).
			Updates(map[string]interface{}{"delivered": true, "delivered_at": now})
		if res.Error != nil {
			return res.Error
		}
		state.Changed = res.RowsAffected > 0

		var receipt models.Receipt
		if err := tx.Where("message_id = ? AND user_id = ?", messageID, userID).First(&receipt).Error; err != nil {
			return err
		}
		if receipt.DeliveredAt != nil {
			state.DeliveredAt = *receipt.DeliveredAt
		}

		if err := recomputeAggregates(tx, []uint{messageID}, "", now); err != nil {
			return err
		}

		var after models.Message
		if err := tx.Select("id", "delivered", "delivered_at").First(&after, messageID).Error; err != nil {
			return err
		}
		state.MessageDelivered = after.Delivered
		state.MessageDeliveredAt = after.DeliveredAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// MarkReadForRoom marks every unread receipt userID holds in the room as read
// (and delivered), restricted to messageIDs when given. The whole batch shares a
// single timestamp. Receipts missing for messages of other senders are repaired
// first. It returns the ids whose receipt changed.
func (s *Service) MarkReadForRoom(ctx context.Context, roomID uint, userID string, messageIDs []uint) ([]uint, error) {
	var affected []uint

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room models.Room
		if err := tx.First(&room, roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return chaterrors.ErrRoomNotFound
			}
			return err
		}
		if !room.HasParticipant(userID) {
			return chaterrors.ErrSenderNotParticipant
		}

		roomMessages := func() *gorm.DB {
			q := tx.Model(&models.Message{}).Select("id").Where("room_id = ?", roomID)
			if len(messageIDs) > 0 {
				q = q.Where("id IN ?", messageIDs)
			}
			return q
		}

		if err := repairMissingReceipts(tx, roomMessages(), userID); err != nil {
			return err
		}

		if err := tx.Model(&models.Receipt{}).
			Where("user_id = ? AND read = ? AND message_id IN (?)", userID, false, roomMessages()).
			Order("message_id").
			Pluck("message_id", &affected).Error; err != nil {
			return err
		}
		if len(affected) == 0 {
			return nil
		}

		now := s.now()
		if err := tx.Model(&models.Receipt{}).
			Where("user_id = ? AND read = ? AND message_id IN ?", userID, false, affected).
			Updates(map[string]interface{}{"read": true, "read_at": now}).Error; err != nil {
			return err
		}
		// Read implies delivered. delivered_at keeps its first value.
		if err := tx.Model(&models.Receipt{}).
			Where("user_id = ? AND delivered = ? AND message_id IN ?", userID, false, affected).
			Updates(map[string]interface{}{"delivered": true, "delivered_at": now}).Error; err != nil {
			return err
		}

		return recomputeAggregates(tx, affected, userID, now)
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}

func repairMissingReceipts(tx *gorm.DB, roomMessages *gorm.DB, userID string) error {
	var missing []uint
	owned := tx.Model(&models.Receipt{}).Select("message_id").Where("user_id = ?", userID)
	if err := tx.Model(&models.Message{}).
		Where("id IN (?) AND sender_id <> ? AND id NOT IN (?)", roomMessages, userID, owned).
		Pluck("id", &missing).Error; err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	receipts := lo.Map(missing, func(id uint, _ int) models.Receipt {
		return models.Receipt{MessageID: id, UserID: userID}
	})
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipts).Error
}

// recomputeAggregates re-derives the delivered and read flags of messageIDs from
// their receipts. A message is delivered when no receipt is undelivered, and read
// when no receipt is unread. The read rollup skips messages authored by reader so
// reading one's own message never marks it read for the other side.
func recomputeAggregates(tx *gorm.DB, messageIDs []uint, reader string, now time.Time) error {
	var undelivered []uint
	if err := tx.Model(&models.Receipt{}).
		Where("message_id IN ? AND delivered = ?", messageIDs, false).
		Distinct().Pluck("message_id", &undelivered).Error; err != nil {
		return err
	}
	if done := lo.Without(messageIDs, undelivered...); len(done) > 0 {
		if err := tx.Model(&models.Message{}).
			Where("id IN ? AND delivered = ?", done, false).
			Updates(map[string]interface{}{"delivered": true, "delivered_at": now}).Error; err != nil {
			return err
		}
	}

	if reader == "" {
		return nil
	}
	var unread []uint
	if err := tx.Model(&models.Receipt{}).
		Where("message_id IN ? AND read = ?", messageIDs, false).
		Distinct().Pluck("message_id", &unread).Error; err != nil {
		return err
	}
	done := lo.Without(messageIDs, unread...)
	if len(done) == 0 {
		return nil
	}
	return tx.Model(&models.Message{}).
		Where("id IN ? AND read = ? AND sender_id <> ?", done, false, reader).
		Updates(map[string]interface{}{"read": true, "seen": true, "read_at": now}).Error
}

// ListReceipts returns the receipts of a message ordered by user id.
func (s *Service) ListReceipts(ctx context.Context, messageID uint) ([]models.Receipt, error) {
	var receipts []models.Receipt
	err := s.DB.WithContext(ctx).Where("message_id = ?", messageID).Order("user_id").Find(&receipts).Error
	return receipts, err
}
