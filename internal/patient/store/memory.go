package store

import (
	"context"
	"sync"

	"dosegate/internal/patient"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
)

type InMemory struct {
	mu       sync.RWMutex
	profiles map[id.PatientID]patient.Profile
}

func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[id.PatientID]patient.Profile)}
}

// Seed installs a profile. Used by tests and local wiring; production rows
// come from the EMR sync job.
func (s *InMemory) Seed(p patient.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.PatientID] = p
}

func (s *InMemory) FindByPatient(_ context.Context, patientID id.PatientID) (*patient.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[patientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}
