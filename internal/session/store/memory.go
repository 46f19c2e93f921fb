package store

import (
	"context"
	"sync"

	"dosegate/internal/session/models"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
)

// InMemory keeps attempts keyed by id. The terminal-state guard lives here,
// mirroring the relational store, so the immutability invariant holds no
// matter which backend is wired.
type InMemory struct {
	mu       sync.RWMutex
	attempts map[id.AttemptID]models.VerificationAttempt
}

func NewInMemory() *InMemory {
	return &InMemory{attempts: make(map[id.AttemptID]models.VerificationAttempt)}
}

func (s *InMemory) Create(_ context.Context, attempt models.VerificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[attempt.ID]; ok {
		return sentinel.ErrConflict
	}
	s.attempts[attempt.ID] = attempt
	return nil
}

func (s *InMemory) FindByID(_ context.Context, attemptID id.AttemptID) (*models.VerificationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := attempt
	return &copied, nil
}

// Update replaces the stored attempt. Rejected with ErrInvalidState once the
// stored copy is terminal.
func (s *InMemory) Update(_ context.Context, attempt models.VerificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.attempts[attempt.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Terminal() {
		return sentinel.ErrInvalidState
	}
	s.attempts[attempt.ID] = attempt
	return nil
}
