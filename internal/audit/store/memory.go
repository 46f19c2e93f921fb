package store

import (
	"context"
	"sync"

	"dosegate/internal/audit"
	id "dosegate/pkg/domain"
)

// InMemory keeps entries in append order. Nothing is ever deleted.
type InMemory struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemory) ListByAttempt(_ context.Context, attemptID id.AttemptID) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.AttemptID == attemptID {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every entry in append order. Test helper.
func (s *InMemory) All() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry{}, s.entries...)
}
