package storage

import (
	"chatcore/backend/internal/models"
	"context"
	"time"

	"gorm.io/gorm"
)

// EnqueueBroadcastRetry records a broadcast that failed to publish. The entry is
// due immediately; the retrier decides the backoff after each further failure.
func (s *Service) EnqueueBroadcastRetry(ctx context.Context, group string, payload []byte, lastErr error) error {
	entry := models.BroadcastRetry{
		Group:         group,
		Payload:       string(payload),
		LastError:     errorText(lastErr),
		NextAttemptAt: s.now(),
	}
	return s.DB.WithContext(ctx).Create(&entry).Error
}

// DueBroadcastRetries returns up to limit entries whose next attempt is not after now.
func (s *Service) DueBroadcastRetries(ctx context.Context, now time.Time, limit int) ([]models.BroadcastRetry, error) {
	var entries []models.BroadcastRetry
	err := s.DB.WithContext(ctx).
		Where("next_attempt_at <= ?", now).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (s *Service) RescheduleBroadcastRetry(ctx context.Context, id uint, lastErr error, next time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.BroadcastRetry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_error":      errorText(lastErr),
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": next,
		}).Error
}

func (s *Service) DeleteBroadcastRetry(ctx context.Context, id uint) error {
	return s.DB.WithContext(ctx).Delete(&models.BroadcastRetry{}, id).Error
}

// ListBroadcastRetries lists pending entries for inspection, oldest first.
func (s *Service) ListBroadcastRetries(ctx context.Context, limit int) ([]models.BroadcastRetry, error) {
	var entries []models.BroadcastRetry
	err := s.DB.WithContext(ctx).Order("id ASC").Limit(limit).Find(&entries).Error
	return entries, err
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
