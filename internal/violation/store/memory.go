package store

import (
	"context"
	"sync"
	"time"

	"dosegate/internal/violation/models"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
)

// InMemory keeps violation records in append order per patient.
type InMemory struct {
	mu      sync.RWMutex
	records []models.ViolationRecord
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, rec models.ViolationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// UnresolvedSince returns unresolved records for the patient occurring at or
// after the cutoff, oldest first.
func (s *InMemory) UnresolvedSince(_ context.Context, patientID id.PatientID, cutoff time.Time) ([]models.ViolationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ViolationRecord
	for _, r := range s.records {
		if r.PatientID == patientID && !r.Resolved && !r.OccurredAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemory) Resolve(_ context.Context, recordID id.RecordID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == recordID {
			if s.records[i].Resolved {
				return nil
			}
			s.records[i].Resolved = true
			resolvedAt := at
			s.records[i].ResolvedAt = &resolvedAt
			return nil
		}
	}
	return sentinel.ErrNotFound
}
