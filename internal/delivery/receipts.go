package delivery

import (
	"chatcore/backend/internal/metrics"
	"chatcore/backend/internal/models"
	"chatcore/backend/internal/storage"
	"context"

	"github.com/sirupsen/logrus"
)

// ReceiptEngine drives the PENDING -> DELIVERED -> READ state machine of receipts.
// Store failures stop here: they are logged and counted, and callers see a
// negative result instead of an error, so receipt bookkeeping never blocks
// message delivery.
type ReceiptEngine struct {
	store storage.ReceiptStore
	log   *logrus.Entry
}

func NewReceiptEngine(store storage.ReceiptStore, logger *logrus.Logger) *ReceiptEngine {
	return &ReceiptEngine{store: store, log: logger.WithField("component", "receipts")}
}

// MarkDelivered returns ok=false when the transition could not be recorded.
func (r *ReceiptEngine) MarkDelivered(ctx context.Context, messageID uint, userID string) (*models.DeliveryState, bool) {
	state, err := r.store.MarkDelivered(ctx, messageID, userID)
	if err != nil {
		metrics.ReceiptFailure("delivered")
		r.log.WithError(err).WithFields(logrus.Fields{"message_id": messageID, "user_id": userID}).
			Warn("mark delivered failed")
		return nil, false
	}
	if state.Changed {
		metrics.ReceiptTransition("delivered", 1)
	}
	return state, true
}

// MarkReadForRoom returns the ids that moved to read, or nothing on failure.
func (r *ReceiptEngine) MarkReadForRoom(ctx context.Context, roomID uint, userID string, messageIDs []uint) []uint {
	updated, err := r.store.MarkReadForRoom(ctx, roomID, userID, messageIDs)
	if err != nil {
		metrics.ReceiptFailure("read")
		r.log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).
			Warn("mark read failed")
		return nil
	}
	metrics.ReceiptTransition("read", len(updated))
	return updated
}

// Snapshot returns the current receipts of a message, or nil when they cannot be read.
func (r *ReceiptEngine) Snapshot(ctx context.Context, messageID uint) []models.Receipt {
	receipts, err := r.store.ListReceipts(ctx, messageID)
	if err != nil {
		metrics.ReceiptFailure("list")
		r.log.WithError(err).WithField("message_id", messageID).Warn("list receipts failed")
		return nil
	}
	return receipts
}
