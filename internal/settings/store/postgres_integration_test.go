//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dosegate/internal/dosingwindow"
	"dosegate/internal/settings/models"
	"dosegate/internal/settings/store"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
	"dosegate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background(), "diversion_settings"))
}

func newTestSettings(tenantID id.TenantID) *models.DiversionSettings {
	return &models.DiversionSettings{
		ID:                           id.SettingsID(uuid.New()),
		TenantID:                     tenantID,
		GeofenceRadiusMeters:         150,
		DosingWindow:                 dosingwindow.Window{Start: dosingwindow.TimeOfDay{Hour: 6}, End: dosingwindow.TimeOfDay{Hour: 11}},
		BiometricConfidenceThreshold: 85,
		RequireBiometric:             true,
		AlertDelay:                   5 * time.Minute,
		CallbackThresholdViolations:  2,
		NotifySponsorOnViolation:     true,
		AllowLocationExceptions:      true,
		MaxExceptionDays:             14,
		MaxRegisteredDevices:         2,
		RiskScoreWindowDays:          30,
		StageRetryLimit:              3,
		EmergencyContact:             "+1-555-0142",
		CreatedAt:                    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestVersioning() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())

	first := newTestSettings(tenantID)
	s.Require().NoError(s.store.AppendVersion(ctx, first))
	s.Equal(1, first.Version)
	s.True(first.Active)

	second := newTestSettings(tenantID)
	second.GeofenceRadiusMeters = 300
	s.Require().NoError(s.store.AppendVersion(ctx, second))
	s.Equal(2, second.Version)

	active, err := s.store.ActiveByTenant(ctx, tenantID)
	s.Require().NoError(err)
	s.Equal(second.ID, active.ID)
	s.Equal(300, active.GeofenceRadiusMeters)

	versions, err := s.store.VersionsByTenant(ctx, tenantID)
	s.Require().NoError(err)
	s.Require().Len(versions, 2)
	s.False(versions[0].Active)
	s.True(versions[1].Active)
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	in := newTestSettings(tenantID)
	s.Require().NoError(s.store.AppendVersion(ctx, in))

	out, err := s.store.ActiveByTenant(ctx, tenantID)
	s.Require().NoError(err)
	s.Equal(in.DosingWindow, out.DosingWindow)
	s.Equal(in.BiometricConfidenceThreshold, out.BiometricConfidenceThreshold)
	s.Equal(in.AlertDelay, out.AlertDelay)
	s.Equal(in.EmergencyContact, out.EmergencyContact)
	s.NoError(out.Validate())
}

func (s *PostgresStoreSuite) TestActiveByTenantNotFound() {
	_, err := s.store.ActiveByTenant(context.Background(), id.TenantID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentAppend verifies that concurrent version appends serialize on
// the (tenant_id, version) constraint and leave exactly one active row.
func (s *PostgresStoreSuite) TestConcurrentAppend() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())
	s.Require().NoError(s.store.AppendVersion(ctx, newTestSettings(tenantID)))

	const goroutines = 10
	var wg sync.WaitGroup
	var successCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.AppendVersion(ctx, newTestSettings(tenantID)); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Positive(successCount.Load())

	var activeRows int
	err := s.postgres.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM diversion_settings WHERE tenant_id = $1 AND active`,
		uuid.UUID(tenantID),
	).Scan(&activeRows)
	s.Require().NoError(err)
	s.Equal(1, activeRows)

	versions, err := s.store.VersionsByTenant(ctx, tenantID)
	s.Require().NoError(err)
	s.Equal(1+int(successCount.Load()), len(versions))
}
