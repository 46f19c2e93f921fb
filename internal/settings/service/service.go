package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dosegate/internal/platform/metrics"
	"dosegate/internal/settings/models"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/platform/sentinel"
	"dosegate/pkg/requestcontext"
)

// Store persists settings versions.
type Store interface {
	ActiveByTenant(ctx context.Context, tenantID id.TenantID) (*models.DiversionSettings, error)
	AppendVersion(ctx context.Context, settings *models.DiversionSettings) error
	VersionsByTenant(ctx context.Context, tenantID id.TenantID) ([]models.DiversionSettings, error)
}

const (
	cacheKeyPrefix = "dosegate:settings:"
	cacheTTL       = time.Minute
)

// Service loads and updates the tenant diversion policy. Every load validates
// the policy; an invalid policy fails the request instead of degrading to
// defaults, because wrong defaults in a controlled-substance-custody system
// are a compliance risk, not a convenience.
type Service struct {
	store   Store
	cache   *redis.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithCache(cache *redis.Client) Option {
	return func(s *Service) { s.cache = cache }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, opts ...Option) *Service {
	svc := &Service{store: store}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Load returns the tenant's active, validated policy.
func (s *Service) Load(ctx context.Context, tenantID id.TenantID) (*models.DiversionSettings, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant id is required")
	}

	if cached := s.fromCache(ctx, tenantID); cached != nil {
		return cached, nil
	}

	settings, err := s.store.ActiveByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no diversion settings configured for tenant")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load settings")
	}
	if err := settings.Validate(); err != nil {
		// Fatal for the tenant's diversion feature. Surface, never default.
		return nil, err
	}

	s.toCache(ctx, settings)
	return settings, nil
}

// Update validates and appends a new settings version. The previous version is
// retained for audit replay; nothing is mutated in place.
func (s *Service) Update(ctx context.Context, tenantID id.TenantID, update models.Update) (*models.DiversionSettings, error) {
	current, err := s.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	next := update.Apply(*current)
	next.ID = id.SettingsID(uuid.New())
	next.CreatedAt = requestcontext.Now(ctx)
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.AppendVersion(ctx, &next); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "concurrent settings update, retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store settings version")
	}

	s.invalidate(ctx, tenantID)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "diversion settings updated",
			"tenant_id", tenantID.String(),
			"version", next.Version,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return &next, nil
}

// Bootstrap installs an initial settings version for a tenant that has none.
func (s *Service) Bootstrap(ctx context.Context, settings models.DiversionSettings) (*models.DiversionSettings, error) {
	if _, err := s.store.ActiveByTenant(ctx, settings.TenantID); err == nil {
		return nil, dErrors.New(dErrors.CodeConflict, "tenant already has active settings")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing settings")
	}

	settings.ID = id.SettingsID(uuid.New())
	settings.CreatedAt = requestcontext.Now(ctx)
	if settings.StageRetryLimit == 0 {
		settings.StageRetryLimit = models.DefaultStageRetryLimit
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.AppendVersion(ctx, &settings); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store settings")
	}
	s.invalidate(ctx, settings.TenantID)
	return &settings, nil
}

// Versions returns the retained settings history, oldest first.
func (s *Service) Versions(ctx context.Context, tenantID id.TenantID) ([]models.DiversionSettings, error) {
	versions, err := s.store.VersionsByTenant(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list settings versions")
	}
	return versions, nil
}

func (s *Service) fromCache(ctx context.Context, tenantID id.TenantID) *models.DiversionSettings {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, cacheKeyPrefix+tenantID.String()).Bytes()
	if err != nil {
		s.recordCache("miss")
		return nil
	}
	var settings models.DiversionSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		s.invalidate(ctx, tenantID)
		return nil
	}
	if settings.Validate() != nil {
		// A stale or corrupt cache entry never substitutes for the store.
		s.invalidate(ctx, tenantID)
		return nil
	}
	s.recordCache("hit")
	return &settings
}

func (s *Service) toCache(ctx context.Context, settings *models.DiversionSettings) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKeyPrefix+settings.TenantID.String(), raw, cacheTTL).Err(); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "settings cache write failed", "error", err)
	}
}

func (s *Service) invalidate(ctx context.Context, tenantID id.TenantID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKeyPrefix+tenantID.String()).Err(); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "settings cache invalidation failed", "error", err)
	}
}

func (s *Service) recordCache(result string) {
	if s.metrics != nil {
		s.metrics.SettingsCacheHits.WithLabelValues(result).Inc()
	}
}
