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

	"dosegate/internal/session/models"
	"dosegate/internal/session/store"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
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
	s.Require().NoError(s.postgres.Truncate(context.Background(), "verification_attempts"))
}

func newTestAttempt() models.VerificationAttempt {
	return models.VerificationAttempt{
		ID:        id.AttemptID(uuid.New()),
		TenantID:  id.TenantID(uuid.New()),
		PatientID: id.PatientID(uuid.New()),
		DeviceID:  id.DeviceID(uuid.New()),
		State:     models.StateScanning,
		StartedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	attempt := newTestAttempt()
	s.Require().NoError(s.store.Create(ctx, attempt))

	stored, err := s.store.FindByID(ctx, attempt.ID)
	s.Require().NoError(err)
	s.Equal(attempt.ID, stored.ID)
	s.Equal(models.StateScanning, stored.State)
	s.True(stored.UnitID.IsNil(), "unit is unbound until the scan stage")
	s.Nil(stored.ScannedAt)
	s.Nil(stored.BiometricScore)
}

func (s *PostgresStoreSuite) TestDuplicateCreate() {
	ctx := context.Background()
	attempt := newTestAttempt()
	s.Require().NoError(s.store.Create(ctx, attempt))
	s.ErrorIs(s.store.Create(ctx, attempt), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestNullableColumnsRoundTrip() {
	ctx := context.Background()
	attempt := newTestAttempt()
	s.Require().NoError(s.store.Create(ctx, attempt))

	now := time.Now().UTC().Truncate(time.Microsecond)
	lat, lng, score := 41.8781, -87.6298, 91.5
	attempt.UnitID = id.UnitID(uuid.New())
	attempt.State = models.StateBiometricCheck
	attempt.ScannedAt = &now
	attempt.LocationCheckedAt = &now
	attempt.GPSLatitude = &lat
	attempt.GPSLongitude = &lng
	attempt.BiometricScore = &score
	attempt.StageRetries = 2
	s.Require().NoError(s.store.Update(ctx, attempt))

	stored, err := s.store.FindByID(ctx, attempt.ID)
	s.Require().NoError(err)
	s.Equal(attempt.UnitID, stored.UnitID)
	s.Equal(models.StateBiometricCheck, stored.State)
	s.Require().NotNil(stored.ScannedAt)
	s.True(stored.ScannedAt.Equal(now))
	s.Require().NotNil(stored.GPSLatitude)
	s.Equal(lat, *stored.GPSLatitude)
	s.Require().NotNil(stored.BiometricScore)
	s.Equal(score, *stored.BiometricScore)
	s.Equal(2, stored.StageRetries)
}

func (s *PostgresStoreSuite) TestTerminalRowsAreImmutable() {
	ctx := context.Background()
	attempt := newTestAttempt()
	s.Require().NoError(s.store.Create(ctx, attempt))

	now := time.Now().UTC().Truncate(time.Microsecond)
	attempt.State = models.StateFailed
	attempt.FailureReason = dErrors.CodeOutsideGeofence
	attempt.CompletedAt = &now
	s.Require().NoError(s.store.Update(ctx, attempt))

	attempt.State = models.StateSucceeded
	attempt.FailureReason = ""
	s.ErrorIs(s.store.Update(ctx, attempt), sentinel.ErrInvalidState)

	stored, err := s.store.FindByID(ctx, attempt.ID)
	s.Require().NoError(err)
	s.Equal(models.StateFailed, stored.State)
	s.Equal(dErrors.CodeOutsideGeofence, stored.FailureReason)
}

func (s *PostgresStoreSuite) TestUpdateMissingAttempt() {
	s.ErrorIs(s.store.Update(context.Background(), newTestAttempt()), sentinel.ErrNotFound)
}

// TestConcurrentTerminalTransition verifies that racing writers cannot both
// settle the attempt: once any terminal write lands, the guard rejects the
// rest.
func (s *PostgresStoreSuite) TestConcurrentTerminalTransition() {
	ctx := context.Background()
	attempt := newTestAttempt()
	s.Require().NoError(s.store.Create(ctx, attempt))

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			terminal := attempt
			terminal.State = models.StateFailed
			terminal.FailureReason = dErrors.CodeWindowClosed
			now := time.Now().UTC()
			terminal.CompletedAt = &now
			if err := s.store.Update(ctx, terminal); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one terminal write should land")
}
