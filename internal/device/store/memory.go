package store

import (
	"context"
	"sync"

	"dosegate/internal/device"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
)

type InMemory struct {
	mu      sync.RWMutex
	devices map[id.DeviceID]device.Registration
}

func NewInMemory() *InMemory {
	return &InMemory{devices: make(map[id.DeviceID]device.Registration)}
}

func (s *InMemory) Create(_ context.Context, reg *device.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.devices[reg.ID]; exists {
		return sentinel.ErrConflict
	}
	s.devices[reg.ID] = *reg
	return nil
}

func (s *InMemory) FindByID(_ context.Context, deviceID id.DeviceID) (*device.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.devices[deviceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &reg, nil
}

func (s *InMemory) CountByPatient(_ context.Context, patientID id.PatientID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, reg := range s.devices {
		if reg.PatientID == patientID {
			count++
		}
	}
	return count, nil
}
