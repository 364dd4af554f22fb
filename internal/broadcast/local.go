package broadcast

import (
	"context"
	"errors"
	"sync"
)

// DefaultLocalBuffer is the per-subscriber queue length of LocalBus.
const DefaultLocalBuffer = 1024

// ErrBusFull is returned when a local subscriber's queue is full.
var ErrBusFull = errors.New("local bus queue full")

// LocalBus delivers within a single process. It backs tests and single-node
// deployments without Redis.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Message
	nextID int
	buffer int
}

func NewLocalBus(buffer int) *LocalBus {
	return &LocalBus{subs: make(map[int]chan Message), buffer: buffer}
}

// Publish never blocks. A subscriber whose queue is full makes the publish fail
// so the caller can fall back to the outbox. Delivery is all-or-nothing: when
// any queue is full no subscriber gets the message, so the outbox retry does
// not duplicate it.
func (b *LocalBus) Publish(_ context.Context, group string, payload []byte) error {
	// Publishers are serialized and subscribers only drain, so free capacity
	// checked under the lock is still there when the sends happen.
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		if len(ch) == cap(ch) {
			return ErrBusFull
		}
	}
	msg := Message{Group: group, Payload: payload}
	for _, ch := range b.subs {
		ch <- msg
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, handler Handler) error {
	ch := make(chan Message, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			handler(msg)
		}
	}
}

// Subscribers reports how many subscriptions are active.
func (b *LocalBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
