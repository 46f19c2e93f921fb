package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dosegate/internal/dosingwindow"
	"dosegate/internal/settings/models"
	"dosegate/internal/settings/store"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/testutil"
)

func validSettings(tenantID id.TenantID) models.DiversionSettings {
	return models.DiversionSettings{
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
	}
}

type ServiceSuite struct {
	suite.Suite
	svc      *Service
	store    *store.InMemory
	tenantID id.TenantID
	ctx      context.Context
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.svc = New(s.store)
	s.tenantID = id.TenantID(uuid.New())
	s.ctx = testutil.ContextAt(time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC))
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

// ============================================================
// Bootstrap
// ============================================================

func (s *ServiceSuite) TestBootstrap() {
	s.Run("installs version 1 as active", func() {
		got, err := s.svc.Bootstrap(s.ctx, validSettings(s.tenantID))
		s.Require().NoError(err)
		s.Equal(1, got.Version)
		s.True(got.Active)
		s.False(got.ID.IsNil())
	})

	s.Run("rejects a second bootstrap for the same tenant", func() {
		_, err := s.svc.Bootstrap(s.ctx, validSettings(s.tenantID))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("defaults the stage retry limit when unset", func() {
		settings := validSettings(id.TenantID(uuid.New()))
		settings.StageRetryLimit = 0
		got, err := s.svc.Bootstrap(s.ctx, settings)
		s.Require().NoError(err)
		s.Equal(models.DefaultStageRetryLimit, got.StageRetryLimit)
	})

	s.Run("rejects an invalid policy", func() {
		settings := validSettings(id.TenantID(uuid.New()))
		settings.GeofenceRadiusMeters = 0
		_, err := s.svc.Bootstrap(s.ctx, settings)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidSettings))
	})
}

// ============================================================
// Load
// ============================================================

func (s *ServiceSuite) TestLoad() {
	s.Run("returns not-found for an unconfigured tenant", func() {
		_, err := s.svc.Load(s.ctx, id.TenantID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("returns the active version", func() {
		_, err := s.svc.Bootstrap(s.ctx, validSettings(s.tenantID))
		s.Require().NoError(err)

		got, err := s.svc.Load(s.ctx, s.tenantID)
		s.Require().NoError(err)
		s.Equal(s.tenantID, got.TenantID)
		s.Equal(1, got.Version)
	})

	s.Run("surfaces an invalid stored policy instead of defaulting", func() {
		tenantID := id.TenantID(uuid.New())
		broken := validSettings(tenantID)
		broken.BiometricConfidenceThreshold = 250
		s.Require().NoError(s.store.AppendVersion(s.ctx, &broken))

		_, err := s.svc.Load(s.ctx, tenantID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidSettings))
	})

	s.Run("rejects a nil tenant id", func() {
		_, err := s.svc.Load(s.ctx, id.TenantID{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

// ============================================================
// Update
// ============================================================

func (s *ServiceSuite) TestUpdate() {
	s.Run("appends a new version and keeps the old one", func() {
		_, err := s.svc.Bootstrap(s.ctx, validSettings(s.tenantID))
		s.Require().NoError(err)

		radius := 300
		got, err := s.svc.Update(s.ctx, s.tenantID, models.Update{GeofenceRadiusMeters: &radius})
		s.Require().NoError(err)
		s.Equal(2, got.Version)
		s.Equal(300, got.GeofenceRadiusMeters)
		s.Equal(85.0, got.BiometricConfidenceThreshold)

		versions, err := s.svc.Versions(s.ctx, s.tenantID)
		s.Require().NoError(err)
		s.Require().Len(versions, 2)
		s.Equal(150, versions[0].GeofenceRadiusMeters)
		s.False(versions[0].Active)
		s.True(versions[1].Active)
	})

	s.Run("validates the merged result, not the patch alone", func() {
		window := dosingwindow.Window{
			Start: dosingwindow.TimeOfDay{Hour: 8},
			End:   dosingwindow.TimeOfDay{Hour: 8},
		}
		_, err := s.svc.Update(s.ctx, s.tenantID, models.Update{DosingWindow: &window})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidSettings))

		got, err := s.svc.Load(s.ctx, s.tenantID)
		s.Require().NoError(err)
		s.Equal(6, got.DosingWindow.Start.Hour)
	})

	s.Run("fails for an unconfigured tenant", func() {
		radius := 200
		_, err := s.svc.Update(s.ctx, id.TenantID(uuid.New()), models.Update{GeofenceRadiusMeters: &radius})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// ============================================================
// Update merge
// ============================================================

func TestUpdateApply(t *testing.T) {
	base := validSettings(id.TenantID(uuid.New()))

	t.Run("keeps base values for nil fields", func(t *testing.T) {
		got := models.Update{}.Apply(base)
		if got != base {
			t.Fatalf("empty update changed settings: %+v", got)
		}
	})

	t.Run("replaces only the set fields", func(t *testing.T) {
		threshold := 92.5
		contact := "+1-555-0199"
		got := models.Update{
			BiometricConfidenceThreshold: &threshold,
			EmergencyContact:             &contact,
		}.Apply(base)
		if got.BiometricConfidenceThreshold != 92.5 || got.EmergencyContact != contact {
			t.Fatalf("patched fields not applied: %+v", got)
		}
		if got.GeofenceRadiusMeters != base.GeofenceRadiusMeters {
			t.Fatalf("untouched field changed: %d", got.GeofenceRadiusMeters)
		}
	})
}
