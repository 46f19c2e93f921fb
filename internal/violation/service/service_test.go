package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dosegate/internal/violation/models"
	"dosegate/internal/violation/store"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/testutil"
)

const windowDays = 30

type TrackerSuite struct {
	suite.Suite
	svc       *Service
	store     *store.InMemory
	patientID id.PatientID
	tenantID  id.TenantID
	now       time.Time
	ctx       context.Context
}

func (s *TrackerSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.svc = New(s.store)
	s.patientID = id.PatientID(uuid.New())
	s.tenantID = id.TenantID(uuid.New())
	s.now = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	s.ctx = testutil.ContextAt(s.now)
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerSuite))
}

func (s *TrackerSuite) record(kind models.Kind, occurredAt time.Time) models.ViolationRecord {
	rec := models.ViolationRecord{
		ID:         id.RecordID(uuid.New()),
		TenantID:   s.tenantID,
		PatientID:  s.patientID,
		AttemptID:  id.AttemptID(uuid.New()),
		Kind:       kind,
		OccurredAt: occurredAt,
	}
	_, err := s.svc.Record(s.ctx, rec, windowDays)
	s.Require().NoError(err)
	return rec
}

// ============================================================
// Record
// ============================================================

func (s *TrackerSuite) TestRecord() {
	s.Run("fills id and timestamp and returns the window contents", func() {
		recent, err := s.svc.Record(s.ctx, models.ViolationRecord{
			TenantID:  s.tenantID,
			PatientID: s.patientID,
			AttemptID: id.AttemptID(uuid.New()),
			Kind:      models.KindLocationFail,
		}, windowDays)
		s.Require().NoError(err)
		s.Require().Len(recent, 1)
		s.False(recent[0].ID.IsNil())
		s.True(recent[0].OccurredAt.Equal(s.now))
	})

	s.Run("rejects an unknown kind without appending", func() {
		before, err := s.svc.CountRecent(s.ctx, s.patientID, windowDays)
		s.Require().NoError(err)

		_, err = s.svc.Record(s.ctx, models.ViolationRecord{
			TenantID:  s.tenantID,
			PatientID: s.patientID,
			Kind:      models.Kind("tamper-suspected"),
		}, windowDays)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

		count, err := s.svc.CountRecent(s.ctx, s.patientID, windowDays)
		s.Require().NoError(err)
		s.Equal(before, count)
	})
}

// ============================================================
// Rolling window
// ============================================================

func (s *TrackerSuite) TestRollingWindow() {
	s.record(models.KindMissedWindow, s.now.AddDate(0, 0, -45))
	s.record(models.KindLocationFail, s.now.AddDate(0, 0, -10))
	s.record(models.KindBiometricFail, s.now.Add(-time.Hour))

	s.Run("counts only records inside the window", func() {
		count, err := s.svc.CountRecent(s.ctx, s.patientID, windowDays)
		s.Require().NoError(err)
		s.Equal(2, count)
	})

	s.Run("a wider window picks up the older record", func() {
		count, err := s.svc.CountRecent(s.ctx, s.patientID, 60)
		s.Require().NoError(err)
		s.Equal(3, count)
	})

	s.Run("other patients are not counted", func() {
		count, err := s.svc.CountRecent(s.ctx, id.PatientID(uuid.New()), windowDays)
		s.Require().NoError(err)
		s.Equal(0, count)
	})
}

// ============================================================
// Resolve
// ============================================================

func (s *TrackerSuite) TestResolve() {
	rec := s.record(models.KindLocationFail, s.now.Add(-time.Hour))

	s.Run("removes the record from the unresolved count", func() {
		s.Require().NoError(s.svc.Resolve(s.ctx, rec.ID))

		count, err := s.svc.CountRecent(s.ctx, s.patientID, windowDays)
		s.Require().NoError(err)
		s.Equal(0, count)
	})

	s.Run("resolving again is a no-op", func() {
		s.Require().NoError(s.svc.Resolve(s.ctx, rec.ID))
	})

	s.Run("unknown record is not-found", func() {
		err := s.svc.Resolve(s.ctx, id.RecordID(uuid.New()))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// ============================================================
// Risk levels
// ============================================================

func (s *TrackerSuite) TestRiskLevel() {
	const threshold = 3

	level, err := s.svc.RiskLevel(s.ctx, s.patientID, windowDays, threshold)
	s.Require().NoError(err)
	s.Equal(models.RiskLow, level)

	s.record(models.KindMissedWindow, s.now.Add(-2*time.Hour))
	level, err = s.svc.RiskLevel(s.ctx, s.patientID, windowDays, threshold)
	s.Require().NoError(err)
	s.Equal(models.RiskElevated, level)

	s.record(models.KindLocationFail, s.now.Add(-time.Hour))
	s.record(models.KindBiometricFail, s.now.Add(-30*time.Minute))
	level, err = s.svc.RiskLevel(s.ctx, s.patientID, windowDays, threshold)
	s.Require().NoError(err)
	s.Equal(models.RiskHigh, level)
}

func TestRiskLevelFor(t *testing.T) {
	cases := []struct {
		count     int
		threshold int
		want      models.RiskLevel
	}{
		{0, 3, models.RiskLow},
		{1, 3, models.RiskElevated},
		{2, 3, models.RiskElevated},
		{3, 3, models.RiskHigh},
		{5, 3, models.RiskHigh},
		{1, 1, models.RiskHigh},
	}
	for _, tc := range cases {
		if got := models.RiskLevelFor(tc.count, tc.threshold); got != tc.want {
			t.Errorf("RiskLevelFor(%d, %d) = %s, want %s", tc.count, tc.threshold, got, tc.want)
		}
	}
}
