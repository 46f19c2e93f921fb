package store

import (
	"context"
	"sync"

	"dosegate/internal/settings/models"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
)

// InMemory keeps all settings versions per tenant. The last element of each
// slice is the active version.
type InMemory struct {
	mu       sync.RWMutex
	versions map[id.TenantID][]models.DiversionSettings
}

func NewInMemory() *InMemory {
	return &InMemory{versions: make(map[id.TenantID][]models.DiversionSettings)}
}

// ActiveByTenant returns the tenant's active settings version.
func (s *InMemory) ActiveByTenant(_ context.Context, tenantID id.TenantID) (*models.DiversionSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.versions[tenantID]
	if len(versions) == 0 {
		return nil, sentinel.ErrNotFound
	}
	active := versions[len(versions)-1]
	return &active, nil
}

// AppendVersion stores a new version and deactivates the previous one. The
// store owns version numbering so two concurrent updates cannot both claim
// the same version.
func (s *InMemory) AppendVersion(_ context.Context, settings *models.DiversionSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.versions[settings.TenantID]
	if len(versions) > 0 {
		versions[len(versions)-1].Active = false
	}
	settings.Version = len(versions) + 1
	settings.Active = true
	s.versions[settings.TenantID] = append(versions, *settings)
	return nil
}

// VersionsByTenant returns all retained versions, oldest first.
func (s *InMemory) VersionsByTenant(_ context.Context, tenantID id.TenantID) ([]models.DiversionSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.DiversionSettings{}, s.versions[tenantID]...), nil
}
