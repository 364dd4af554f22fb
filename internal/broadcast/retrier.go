package broadcast

import (
	"chatcore/backend/internal/metrics"
	"chatcore/backend/internal/storage"
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// RetrierConfig tunes outbox draining.
type RetrierConfig struct {
	BatchSize int
	// MaxAttempts drops an entry after that many failed retries. Zero keeps retrying.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Retrier republishes outbox entries. It runs on its own schedule, never on the
// request path.
type Retrier struct {
	store storage.OutboxStore
	bus   Bus
	cfg   RetrierConfig
	log   *logrus.Entry
	now   func() time.Time
}

func NewRetrier(store storage.OutboxStore, bus Bus, cfg RetrierConfig, logger *logrus.Logger) *Retrier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Minute
	}
	return &Retrier{
		store: store,
		bus:   bus,
		cfg:   cfg,
		log:   logger.WithField("component", "broadcast-retrier"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// DrainOnce publishes every due entry once. Published entries are deleted, failed
// ones are rescheduled with exponential backoff.
func (r *Retrier) DrainOnce(ctx context.Context) (published, failed int, err error) {
	due, err := r.store.DueBroadcastRetries(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, entry := range due {
		fields := logrus.Fields{"retry_id": entry.ID, "group": entry.Group, "attempts": entry.Attempts}

		pubErr := r.bus.Publish(ctx, entry.Group, []byte(entry.Payload))
		if pubErr == nil {
			metrics.BroadcastRetry("published")
			published++
			if err := r.store.DeleteBroadcastRetry(ctx, entry.ID); err != nil {
				r.log.WithError(err).WithFields(fields).Error("published retry could not be removed")
			}
			continue
		}

		failed++
		if r.cfg.MaxAttempts > 0 && entry.Attempts+1 >= r.cfg.MaxAttempts {
			metrics.BroadcastRetry("dropped")
			r.log.WithError(pubErr).WithFields(fields).Error("giving up on broadcast")
			if err := r.store.DeleteBroadcastRetry(ctx, entry.ID); err != nil {
				r.log.WithError(err).WithFields(fields).Error("dropped retry could not be removed")
			}
			continue
		}

		metrics.BroadcastRetry("failed")
		next := r.now().Add(r.Delay(entry.Attempts + 1))
		if err := r.store.RescheduleBroadcastRetry(ctx, entry.ID, pubErr, next); err != nil {
			r.log.WithError(err).WithFields(fields).Error("retry could not be rescheduled")
		}
	}

	if published > 0 || failed > 0 {
		r.log.WithFields(logrus.Fields{"published": published, "failed": failed}).Info("outbox drained")
	}
	return published, failed, nil
}

// Delay is the wait before retry number attempt (1-based).
func (r *Retrier) Delay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.cfg.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         r.cfg.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Start schedules DrainOnce with a cron spec such as "@every 5s". Overlapping
// runs are skipped. The returned cron must be stopped by the caller.
func (r *Retrier) Start(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		if _, _, err := r.DrainOnce(ctx); err != nil {
			r.log.WithError(err).Error("outbox drain failed")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
