package store

import (
	"context"
	"sync"
	"time"

	"dosegate/internal/bottle/models"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
)

// InMemory indexes dispensed units by ID and by code payload. The consume
// transition runs under the write lock so two concurrent sessions cannot both
// observe a nil ConsumedAt.
type InMemory struct {
	mu     sync.RWMutex
	byID   map[id.UnitID]*models.DispensedUnit
	byCode map[string]id.UnitID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[id.UnitID]*models.DispensedUnit),
		byCode: make(map[string]id.UnitID),
	}
}

// Create registers a unit at dispensing time. Duplicate code payloads are
// rejected.
func (s *InMemory) Create(_ context.Context, unit *models.DispensedUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byCode[unit.CodePayload]; exists {
		return sentinel.ErrConflict
	}
	copied := *unit
	s.byID[unit.ID] = &copied
	s.byCode[unit.CodePayload] = unit.ID
	return nil
}

// FindByCode resolves a scanned payload to its unit.
func (s *InMemory) FindByCode(_ context.Context, codePayload string) (*models.DispensedUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unitID, ok := s.byCode[codePayload]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *s.byID[unitID]
	return &copied, nil
}

func (s *InMemory) FindByID(_ context.Context, unitID id.UnitID) (*models.DispensedUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unit, ok := s.byID[unitID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *unit
	return &copied, nil
}

// Consume performs the compare-and-set consumed transition: it succeeds only
// if ConsumedAt is nil at the moment of the write. A consumed unit returns
// ErrAlreadyUsed so callers can distinguish replay from absence.
func (s *InMemory) Consume(_ context.Context, unitID id.UnitID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unit, ok := s.byID[unitID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if unit.ConsumedAt != nil {
		return sentinel.ErrAlreadyUsed
	}
	consumedAt := at
	unit.ConsumedAt = &consumedAt
	return nil
}
