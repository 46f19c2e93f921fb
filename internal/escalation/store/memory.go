package store

import (
	"context"
	"sync"
	"time"

	"dosegate/internal/escalation/models"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
)

// InMemoryEvents keeps escalation events in append order.
type InMemoryEvents struct {
	mu     sync.RWMutex
	events []models.EscalationEvent
}

func NewInMemoryEvents() *InMemoryEvents {
	return &InMemoryEvents{}
}

func (s *InMemoryEvents) Append(_ context.Context, event models.EscalationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, copyEvent(event))
	return nil
}

func (s *InMemoryEvents) ListByPatient(_ context.Context, patientID id.PatientID) ([]models.EscalationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EscalationEvent
	for _, e := range s.events {
		if e.PatientID == patientID {
			out = append(out, copyEvent(e))
		}
	}
	return out, nil
}

// HasUnresolvedCallback reports whether an unresolved callback-required
// event exists for the patient.
func (s *InMemoryEvents) HasUnresolvedCallback(_ context.Context, patientID id.PatientID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.PatientID == patientID && e.Action == models.ActionCallbackRequired && !e.Resolved {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryEvents) ResolveCallback(_ context.Context, eventID id.EventID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == eventID {
			if s.events[i].Action != models.ActionCallbackRequired {
				return sentinel.ErrInvalidState
			}
			if s.events[i].Resolved {
				return nil
			}
			s.events[i].Resolved = true
			resolvedAt := at
			s.events[i].ResolvedAt = &resolvedAt
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func copyEvent(e models.EscalationEvent) models.EscalationEvent {
	out := e
	out.TriggeredBy = append([]id.RecordID{}, e.TriggeredBy...)
	return out
}

// InMemoryGrants keeps exception grants keyed by grant id.
type InMemoryGrants struct {
	mu     sync.RWMutex
	grants map[id.GrantID]models.ExceptionGrant
}

func NewInMemoryGrants() *InMemoryGrants {
	return &InMemoryGrants{grants: make(map[id.GrantID]models.ExceptionGrant)}
}

func (s *InMemoryGrants) Create(_ context.Context, grant models.ExceptionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[grant.ID]; ok {
		return sentinel.ErrConflict
	}
	s.grants[grant.ID] = grant
	return nil
}

// LatestByPatient returns the patient's most recently granted exception.
func (s *InMemoryGrants) LatestByPatient(_ context.Context, patientID id.PatientID) (models.ExceptionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest models.ExceptionGrant
		found  bool
	)
	for _, g := range s.grants {
		if g.PatientID != patientID {
			continue
		}
		if !found || g.GrantedAt.After(latest.GrantedAt) {
			latest = g
			found = true
		}
	}
	if !found {
		return models.ExceptionGrant{}, sentinel.ErrNotFound
	}
	return latest, nil
}

// ExpiredUnnotified returns grants past expiry whose exception-expired event
// has not been emitted yet.
func (s *InMemoryGrants) ExpiredUnnotified(_ context.Context, now time.Time) ([]models.ExceptionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ExceptionGrant
	for _, g := range s.grants {
		if now.After(g.ExpiresAt) && g.ExpiredEventAt == nil {
			out = append(out, g)
		}
	}
	return out, nil
}

// MarkExpiredNotified stamps the grant so the expired event is emitted once.
// Returns ErrConflict if another caller already stamped it.
func (s *InMemoryGrants) MarkExpiredNotified(_ context.Context, grantID id.GrantID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if g.ExpiredEventAt != nil {
		return sentinel.ErrConflict
	}
	stamped := at
	g.ExpiredEventAt = &stamped
	s.grants[grantID] = g
	return nil
}
