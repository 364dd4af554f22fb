package broadcast_test

import (
	"chatcore/backend/internal/broadcast"
	"chatcore/backend/internal/models"
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) EnqueueBroadcastRetry(ctx context.Context, group string, payload []byte, lastErr error) error {
	args := m.Called(ctx, group, payload, lastErr)
	return args.Error(0)
}

func (m *MockOutbox) DueBroadcastRetries(ctx context.Context, now time.Time, limit int) ([]models.BroadcastRetry, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BroadcastRetry), args.Error(1)
}

func (m *MockOutbox) RescheduleBroadcastRetry(ctx context.Context, id uint, lastErr error, next time.Time) error {
	args := m.Called(ctx, id, lastErr, next)
	return args.Error(0)
}

func (m *MockOutbox) DeleteBroadcastRetry(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutbox) ListBroadcastRetries(ctx context.Context, limit int) ([]models.BroadcastRetry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BroadcastRetry), args.Error(1)
}

// stubBus records publishes and fails for the groups listed in failFor.
type stubBus struct {
	mu        sync.Mutex
	failFor   map[string]error
	published []broadcast.Message
}

func (b *stubBus) Publish(_ context.Context, group string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.failFor[group]; ok {
		return err
	}
	b.published = append(b.published, broadcast.Message{Group: group, Payload: payload})
	return nil
}

func (b *stubBus) Subscribe(ctx context.Context, _ broadcast.Handler) error {
	<-ctx.Done()
	return nil
}

func (b *stubBus) groups() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.published))
	for _, m := range b.published {
		out = append(out, m.Group)
	}
	return out
}
