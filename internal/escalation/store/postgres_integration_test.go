//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dosegate/internal/escalation/models"
	"dosegate/internal/escalation/store"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
	"dosegate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	events   *store.PostgresEvents
	grants   *store.PostgresGrants
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.events = store.NewPostgresEvents(s.postgres.DB)
	s.grants = store.NewPostgresGrants(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background(), "escalation_events", "exception_grants"))
}

func (s *PostgresStoreSuite) TestEventRoundTrip() {
	ctx := context.Background()
	patientID := id.PatientID(uuid.New())
	event := models.EscalationEvent{
		ID:        id.EventID(uuid.New()),
		TenantID:  id.TenantID(uuid.New()),
		PatientID: patientID,
		TriggeredBy: []id.RecordID{
			id.RecordID(uuid.New()),
			id.RecordID(uuid.New()),
		},
		Action:    models.ActionCallbackRequired,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	s.Require().NoError(s.events.Append(ctx, event))

	stored, err := s.events.ListByPatient(ctx, patientID)
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal(event.ID, stored[0].ID)
	s.Equal(event.TriggeredBy, stored[0].TriggeredBy)
	s.Equal(models.ActionCallbackRequired, stored[0].Action)
	s.False(stored[0].Resolved)
}

func (s *PostgresStoreSuite) TestCallbackResolution() {
	ctx := context.Background()
	patientID := id.PatientID(uuid.New())
	callback := models.EscalationEvent{
		ID:        id.EventID(uuid.New()),
		TenantID:  id.TenantID(uuid.New()),
		PatientID: patientID,
		Action:    models.ActionCallbackRequired,
		CreatedAt: time.Now().UTC(),
	}
	sponsor := callback
	sponsor.ID = id.EventID(uuid.New())
	sponsor.Action = models.ActionSponsorNotified
	s.Require().NoError(s.events.Append(ctx, callback))
	s.Require().NoError(s.events.Append(ctx, sponsor))

	pending, err := s.events.HasUnresolvedCallback(ctx, patientID)
	s.Require().NoError(err)
	s.True(pending)

	s.Run("only callback events can be resolved", func() {
		err := s.events.ResolveCallback(ctx, sponsor.ID, time.Now().UTC())
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("resolution clears the pending flag", func() {
		s.Require().NoError(s.events.ResolveCallback(ctx, callback.ID, time.Now().UTC()))

		pending, err := s.events.HasUnresolvedCallback(ctx, patientID)
		s.Require().NoError(err)
		s.False(pending)
	})

	s.Run("unknown event is not-found", func() {
		err := s.events.ResolveCallback(ctx, id.EventID(uuid.New()), time.Now().UTC())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *PostgresStoreSuite) TestGrantLifecycle() {
	ctx := context.Background()
	patientID := id.PatientID(uuid.New())
	now := time.Now().UTC().Truncate(time.Microsecond)

	older := models.ExceptionGrant{
		ID:        id.GrantID(uuid.New()),
		TenantID:  id.TenantID(uuid.New()),
		PatientID: patientID,
		GrantedAt: now.AddDate(0, 0, -20),
		ExpiresAt: now.AddDate(0, 0, -13),
	}
	newer := older
	newer.ID = id.GrantID(uuid.New())
	newer.GrantedAt = now.AddDate(0, 0, -1)
	newer.ExpiresAt = now.AddDate(0, 0, 6)
	s.Require().NoError(s.grants.Create(ctx, older))
	s.Require().NoError(s.grants.Create(ctx, newer))

	latest, err := s.grants.LatestByPatient(ctx, patientID)
	s.Require().NoError(err)
	s.Equal(newer.ID, latest.ID)

	expired, err := s.grants.ExpiredUnnotified(ctx, now)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(older.ID, expired[0].ID)

	s.Require().NoError(s.grants.MarkExpiredNotified(ctx, older.ID, now))
	expired, err = s.grants.ExpiredUnnotified(ctx, now)
	s.Require().NoError(err)
	s.Empty(expired)
}

// TestConcurrentMarkExpired verifies the compare-and-set behind exactly-once
// expiry notification: one winner, everyone else observes the conflict.
func (s *PostgresStoreSuite) TestConcurrentMarkExpired() {
	ctx := context.Background()
	now := time.Now().UTC()
	grant := models.ExceptionGrant{
		ID:        id.GrantID(uuid.New()),
		TenantID:  id.TenantID(uuid.New()),
		PatientID: id.PatientID(uuid.New()),
		GrantedAt: now.AddDate(0, 0, -10),
		ExpiresAt: now.AddDate(0, 0, -3),
	}
	s.Require().NoError(s.grants.Create(ctx, grant))

	const goroutines = 30
	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.grants.MarkExpiredNotified(ctx, grant.ID, time.Now().UTC())
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one marker should win")
	s.Equal(int32(goroutines-1), conflictCount.Load())
}

func (s *PostgresStoreSuite) TestLatestByPatientNotFound() {
	_, err := s.grants.LatestByPatient(context.Background(), id.PatientID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}
