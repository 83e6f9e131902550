package pending

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps actions in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	actions map[string]*Action
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]*Action)}
}

func (s *MemoryStore) Stage(_ context.Context, a *Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		cur := s.actions[id]
		if cur.ThreadID == a.ThreadID && cur.Status == StatusPending {
			cur.Status = StatusCancelled
			cur.UpdatedAt = a.CreatedAt
		}
	}
	cp := copyAction(a)
	s.actions[a.ID] = cp
	s.order = append(s.order, a.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAction(a), nil
}

func (s *MemoryStore) OpenForThread(_ context.Context, threadID string) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		a := s.actions[s.order[i]]
		if a.ThreadID == threadID && a.Status == StatusPending {
			return copyAction(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Transition(_ context.Context, id string, to Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != StatusPending {
		return ErrNotPending
	}
	a.Status = to
	a.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ExpireBefore(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.actions {
		if a.Status == StatusPending && a.ExpiresAt.Before(now) {
			a.Status = StatusExpired
			a.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func copyAction(a *Action) *Action {
	cp := *a
	cp.Payload = a.Payload.Clone()
	return &cp
}
