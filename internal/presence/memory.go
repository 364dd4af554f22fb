package presence

import (
	"context"
	"sync"
)

// MemoryStore is the single-process backend.
type MemoryStore struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conns: make(map[string]map[string]struct{})}
}

func (s *MemoryStore) MarkOnline(_ context.Context, userID, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		s.conns[userID] = set
	}
	set[connID] = struct{}{}
	return nil
}

func (s *MemoryStore) MarkOffline(_ context.Context, userID, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.conns[userID]
	if !ok {
		return nil
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(s.conns, userID)
	}
	return nil
}

func (s *MemoryStore) IsOnline(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[userID]) > 0, nil
}
