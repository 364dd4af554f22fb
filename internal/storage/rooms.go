package storage

import (
	"chatcore/backend/internal/chaterrors"
	"chatcore/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GetOrCreatePrivateRoom returns the private room of the unordered pair
// (requesterID, otherID), creating it when missing. created is true only for the
// call that inserted the row; a concurrent loser re-reads the winner's room.
func (s *Service) GetOrCreatePrivateRoom(ctx context.Context, requesterID, otherID string) (*models.Room, bool, error) {
	requesterID = strings.TrimSpace(requesterID)
	otherID = strings.TrimSpace(otherID)
	if requesterID == "" || otherID == "" || requesterID == otherID {
		return nil, false, chaterrors.ErrInvalidParticipants
	}

	key := models.PairKey(requesterID, otherID)
	room, err := s.findPrivateRoom(ctx, key, requesterID, otherID)
	if err == nil {
		return room, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	room = &models.Room{
		Name:           "Chat with " + otherID,
		ParticipantIDs: models.ParticipantSet{requesterID, otherID},
		IsPrivate:      true,
		PairKey:        &key,
		CreatedAt:      s.now(),
		Members: []models.RoomMember{
			{UserID: requesterID},
			{UserID: otherID},
		},
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(room).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			existing, findErr := s.findPrivateRoom(ctx, key, requesterID, otherID)
			if findErr != nil {
				return nil, false, fmt.Errorf("re-read private room %s: %w", key, findErr)
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	s.log.WithFields(logrus.Fields{"room_id": room.ID, "pair": key}).Info("private room created")
	return room, true, nil
}

// findPrivateRoom loads the room stored under key and checks that it really
// belongs to both users.
func (s *Service) findPrivateRoom(ctx context.Context, key, a, b string) (*models.Room, error) {
	var room models.Room
	if err := s.DB.WithContext(ctx).Where("pair_key = ?", key).First(&room).Error; err != nil {
		return nil, err
	}
	if !room.HasParticipant(a) || !room.HasParticipant(b) {
		return nil, fmt.Errorf("private room %d under key %q does not belong to %s and %s", room.ID, key, a, b)
	}
	return &room, nil
}

// GetRoom loads a room by id.
func (s *Service) GetRoom(ctx context.Context, roomID uint) (*models.Room, error) {
	var room models.Room
	if err := s.DB.WithContext(ctx).First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chaterrors.ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// ListRoomsForUser returns the user's rooms, most recently active first.
func (s *Service) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	var rooms []models.Room
	err := s.DB.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Order("COALESCE(rooms.last_activity, rooms.created_at) DESC").
		Order("rooms.id DESC").
		Find(&rooms).Error
	return rooms, err
}

// TouchLastActivity moves the room's last activity forward to ts. Older or equal
// timestamps leave the row unchanged.
func (s *Service) TouchLastActivity(ctx context.Context, roomID uint, ts time.Time) error {
	return touchLastActivity(s.DB.WithContext(ctx), roomID, ts)
}

func touchLastActivity(tx *gorm.DB, roomID uint, ts time.Time) error {
	return tx.Model(&models.Room{}).
		Where("id = ? AND (last_activity IS NULL OR last_activity < ?)", roomID, ts).
		Update("last_activity", ts).Error
}
