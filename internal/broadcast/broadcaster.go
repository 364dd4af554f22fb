package broadcast

import (
	"chatcore/backend/internal/chaterrors"
	"chatcore/backend/internal/metrics"
	"chatcore/backend/internal/storage"
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Broadcaster publishes events to groups. A publish that fails is written to the
// outbox so the retrier can deliver it later; the caller only sees an
// ErrBroadcastUnavailable it is free to ignore.
type Broadcaster struct {
	bus    Bus
	outbox storage.OutboxStore
	log    *logrus.Entry
}

func NewBroadcaster(bus Bus, outbox storage.OutboxStore, logger *logrus.Logger) *Broadcaster {
	return &Broadcaster{
		bus:    bus,
		outbox: outbox,
		log:    logger.WithField("component", "broadcaster"),
	}
}

// Broadcast encodes event once and publishes it to every distinct group.
func (b *Broadcaster) Broadcast(ctx context.Context, event interface{}, groups ...string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var result *multierror.Error
	for _, group := range lo.Uniq(groups) {
		if err := b.bus.Publish(ctx, group, payload); err != nil {
			metrics.BroadcastFailure()
			entry := b.log.WithError(err).WithField("group", group)
			if qErr := b.outbox.EnqueueBroadcastRetry(context.WithoutCancel(ctx), group, payload, err); qErr != nil {
				entry.WithField("outbox_error", qErr).Error("broadcast lost: outbox write failed")
			} else {
				entry.Warn("broadcast queued for retry")
			}
			result = multierror.Append(result, fmt.Errorf("%w: group %s: %v", chaterrors.ErrBroadcastUnavailable, group, err))
		}
	}
	return result.ErrorOrNil()
}
