package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dosegate/internal/audit"
	"dosegate/internal/biometric"
	bottlemodels "dosegate/internal/bottle/models"
	"dosegate/internal/dosingwindow"
	"dosegate/internal/geofence"
	"dosegate/internal/patient"
	"dosegate/internal/platform/metrics"
	"dosegate/internal/session/models"
	settingsmodels "dosegate/internal/settings/models"
	violationmodels "dosegate/internal/violation/models"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/platform/sentinel"
	"dosegate/pkg/requestcontext"
)

// AttemptStore persists verification attempts. Update must reject writes to
// terminal rows with sentinel.ErrInvalidState.
type AttemptStore interface {
	Create(ctx context.Context, attempt models.VerificationAttempt) error
	FindByID(ctx context.Context, attemptID id.AttemptID) (*models.VerificationAttempt, error)
	Update(ctx context.Context, attempt models.VerificationAttempt) error
}

// SettingsLoader supplies the validated tenant policy. An invalid policy
// blocks the whole feature, never falls back to defaults.
type SettingsLoader interface {
	Load(ctx context.Context, tenantID id.TenantID) (*settingsmodels.DiversionSettings, error)
}

// BottleRegistry resolves scanned codes and owns the consumed transition.
type BottleRegistry interface {
	Resolve(ctx context.Context, codePayload string) (*bottlemodels.DispensedUnit, error)
	Consume(ctx context.Context, unitID id.UnitID, at time.Time) error
}

// ViolationRecorder appends to the violation ledger and returns the
// unresolved records inside the rolling window, newest included.
type ViolationRecorder interface {
	Record(ctx context.Context, rec violationmodels.ViolationRecord, windowDays int) ([]violationmodels.ViolationRecord, error)
}

// DeviceChecker answers whether the calling device completed pairing for the
// patient. Unregistered devices cannot open attempts.
type DeviceChecker interface {
	IsRegistered(ctx context.Context, patientID id.PatientID, deviceID id.DeviceID) (bool, error)
}

// Escalator is consulted after every recorded violation and answers the
// exception-bypass question during the location stage.
type Escalator interface {
	OnViolation(ctx context.Context, kind violationmodels.Kind, recent []violationmodels.ViolationRecord, cfg settingsmodels.DiversionSettings, timeCritical bool) error
	HasActiveException(ctx context.Context, patientID id.PatientID) (bool, error)
}

// Result is the outcome of a stage submission. Attempt reflects the state
// after the transition; a terminal failure is a completed transition, not an
// error, so handlers render it with a 200 and the failure reason.
// EmergencyContact is set whenever the attempt is in the failed state.
type Result struct {
	Attempt          models.VerificationAttempt
	EmergencyContact string
	WindowRemaining  time.Duration
}

// Machine drives the four-stage verification protocol. Wall-clock deadlines
// are re-evaluated at every stage, never cached from the start of the
// attempt.
type Machine struct {
	attempts   AttemptStore
	settings   SettingsLoader
	profiles   patient.ProfileStore
	registry   BottleRegistry
	verifier   biometric.Verifier
	violations ViolationRecorder
	escalator  Escalator
	devices    DeviceChecker
	auditor    *audit.Publisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Machine)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mx }
}

func New(
	attempts AttemptStore,
	settings SettingsLoader,
	profiles patient.ProfileStore,
	registry BottleRegistry,
	verifier biometric.Verifier,
	violations ViolationRecorder,
	escalator Escalator,
	devices DeviceChecker,
	auditor *audit.Publisher,
	opts ...Option,
) *Machine {
	m := &Machine{
		attempts:   attempts,
		settings:   settings,
		profiles:   profiles,
		registry:   registry,
		verifier:   verifier,
		violations: violations,
		escalator:  escalator,
		devices:    devices,
		auditor:    auditor,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartAttempt opens a verification session. A closed dosing window rejects
// the request outright; no attempt record is created because no retry within
// the session could change the answer.
func (m *Machine) StartAttempt(ctx context.Context, tenantID id.TenantID, patientID id.PatientID, deviceID id.DeviceID) (*Result, error) {
	defer m.observeStage("start", time.Now())

	cfg, profile, err := m.policyFor(ctx, tenantID, patientID)
	if err != nil {
		return nil, err
	}
	registered, err := m.devices.IsRegistered(ctx, patientID, deviceID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check device registration")
	}
	if !registered {
		return nil, dErrors.New(dErrors.CodeForbidden, "device is not registered for this patient")
	}
	now := requestcontext.Now(ctx)
	if !dosingwindow.IsOpen(now, cfg.DosingWindow, profile.Location()) {
		return nil, dErrors.New(dErrors.CodeWindowClosed, "dosing window is closed")
	}

	attempt := models.VerificationAttempt{
		ID:        id.AttemptID(uuid.New()),
		TenantID:  tenantID,
		PatientID: patientID,
		DeviceID:  deviceID,
		State:     models.StateScanning,
		StartedAt: now,
	}
	if err := m.attempts.Create(ctx, attempt); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create verification attempt")
	}
	if err := m.auditor.Emit(ctx, m.entry(attempt, audit.StageCreated, "", "")); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit attempt creation")
	}
	if m.metrics != nil {
		m.metrics.AttemptsStarted.Inc()
	}
	m.logger.InfoContext(ctx, "verification attempt started",
		"attempt_id", attempt.ID.String(),
		"patient_id", patientID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return m.result(attempt, cfg, profile, now), nil
}

// SubmitScan resolves the scanned payload and binds the dispensed unit to
// the attempt. Ownership and replay are checked here; the consumed
// transition itself happens only at the success terminal.
func (m *Machine) SubmitScan(ctx context.Context, attemptID id.AttemptID, codePayload string) (*Result, error) {
	defer m.observeStage("scan", time.Now())

	attempt, cfg, profile, err := m.loadStage(ctx, attemptID, models.StateScanning)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if !dosingwindow.IsOpen(now, cfg.DosingWindow, profile.Location()) {
		return m.failTerminal(ctx, attempt, cfg, profile, dErrors.CodeWindowClosed, violationmodels.KindMissedWindow, true)
	}

	unit, err := m.registry.Resolve(ctx, codePayload)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnknownCode) {
			// A wrong bottle can be re-scanned; the failure burns one
			// retry so a confused client cannot loop forever.
			return m.recoverableFailure(ctx, attempt, cfg, profile, err)
		}
		return nil, err
	}
	if unit.Consumed() {
		return m.failTerminal(ctx, attempt, cfg, profile, dErrors.CodeUnitAlreadyConsumed, violationmodels.KindReplayAttempt, false)
	}
	if unit.PatientID != attempt.PatientID {
		return m.failTerminal(ctx, attempt, cfg, profile, dErrors.CodeUnitNotOwned, "", false)
	}

	attempt.UnitID = unit.ID
	attempt.ScannedAt = timePtr(now)
	attempt.State = models.StateLocationCheck
	attempt.StageRetries = 0
	if err := m.persistTransition(ctx, attempt, audit.StageScanned, "passed", ""); err != nil {
		return nil, err
	}
	return m.result(attempt, cfg, profile, now), nil
}

// SubmitLocation checks the device position against the patient's geofence.
// An active location exception bypasses the check and is audited as such.
func (m *Machine) SubmitLocation(ctx context.Context, attemptID id.AttemptID, coords geofence.Coordinates) (*Result, error) {
	defer m.observeStage("location", time.Now())

	if coords.Lat < -90 || coords.Lat > 90 || coords.Lng < -180 || coords.Lng > 180 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "coordinates out of range")
	}
	attempt, cfg, profile, err := m.loadStage(ctx, attemptID, models.StateLocationCheck)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	attempt.GPSLatitude = &coords.Lat
	attempt.GPSLongitude = &coords.Lng
	if !dosingwindow.IsOpen(now, cfg.DosingWindow, profile.Location()) {
		return m.failTerminal(ctx, attempt, cfg, profile, dErrors.CodeWindowClosed, violationmodels.KindMissedWindow, true)
	}

	detail := ""
	if !geofence.IsWithin(coords, profile.Home, float64(cfg.GeofenceRadiusMeters)) {
		bypass := false
		if cfg.AllowLocationExceptions {
			bypass, err = m.escalator.HasActiveException(ctx, attempt.PatientID)
			if err != nil {
				return nil, err
			}
		}
		if !bypass {
			return m.failTerminal(ctx, attempt, cfg, profile, dErrors.CodeOutsideGeofence, violationmodels.KindLocationFail, true)
		}
		detail = "exception_applied"
	}

	attempt.LocationCheckedAt = timePtr(now)
	attempt.State = models.StateBiometricCheck
	attempt.StageRetries = 0
	if err := m.persistTransition(ctx, attempt, audit.StageLocation, "passed", detail); err != nil {
		return nil, err
	}
	return m.result(attempt, cfg, profile, now), nil
}

// SubmitBiometric scores the probe against the enrolled template and settles
// the attempt. The threshold comparison is inclusive: a score exactly at the
// threshold passes. When the tenant does not require biometrics the stage
// auto-advances straight to success.
func (m *Machine) SubmitBiometric(ctx context.Context, attemptID id.AttemptID, sample biometric.Sample) (*Result, error) {
	defer m.observeStage("biometric", time.Now())

	attempt, cfg, profile, err := m.loadStage(ctx, attemptID, models.StateBiometricCheck)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if !dosingwindow.IsOpen(now, cfg.DosingWindow, profile.Location()) {
		return m.failTerminal(ctx, attempt, cfg, profile, dErrors.CodeWindowClosed, violationmodels.KindMissedWindow, true)
	}

	if cfg.RequireBiometric {
		score, err := m.verifier.Score(ctx, sample, profile.BiometricTemplateRef)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeSensorUnavailable) {
				return m.recoverableFailure(ctx, attempt, cfg, profile, err)
			}
			return nil, err
		}
		attempt.BiometricScore = &score
		if score < cfg.BiometricConfidenceThreshold {
			return m.failTerminal(ctx, attempt, cfg, profile, dErrors.CodeBiometricMismatch, violationmodels.KindBiometricFail, false)
		}
		attempt.BiometricCheckedAt = timePtr(now)
		if err := m.auditor.Emit(ctx, m.entry(attempt, audit.StageBiometric, "passed", "")); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "audit biometric check")
		}
	} else {
		attempt.BiometricCheckedAt = timePtr(now)
	}

	// Consume before declaring success: the compare-and-set on the unit is
	// the arbiter when two sessions race over the same bottle.
	if err := m.registry.Consume(ctx, attempt.UnitID, now); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnitAlreadyConsumed) {
			return m.failTerminal(ctx, attempt, cfg, profile, dErrors.CodeUnitAlreadyConsumed, violationmodels.KindReplayAttempt, false)
		}
		return nil, err
	}

	attempt.State = models.StateSucceeded
	attempt.CompletedAt = timePtr(now)
	if err := m.persistTransition(ctx, attempt, audit.StageCompleted, "success", ""); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.AttemptsCompleted.WithLabelValues("success", "").Inc()
	}
	m.logger.InfoContext(ctx, "verification attempt succeeded",
		"attempt_id", attempt.ID.String(),
		"patient_id", attempt.PatientID.String(),
		"unit_id", attempt.UnitID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return m.result(attempt, cfg, profile, now), nil
}

// Get returns the attempt for client resume. A device reopening mid-session
// reads the authoritative state instead of restarting the protocol.
func (m *Machine) Get(ctx context.Context, attemptID id.AttemptID) (*Result, error) {
	attempt, err := m.findOwned(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	cfg, profile, err := m.policyFor(ctx, attempt.TenantID, attempt.PatientID)
	if err != nil {
		return nil, err
	}
	return m.result(*attempt, cfg, profile, requestcontext.Now(ctx)), nil
}

// AuditTrail returns the attempt's audit entries for admin review.
func (m *Machine) AuditTrail(ctx context.Context, attemptID id.AttemptID) ([]audit.Entry, error) {
	if _, err := m.findOwned(ctx, attemptID); err != nil {
		return nil, err
	}
	return m.auditor.List(ctx, attemptID)
}

func (m *Machine) policyFor(ctx context.Context, tenantID id.TenantID, patientID id.PatientID) (settingsmodels.DiversionSettings, *patient.Profile, error) {
	cfg, err := m.settings.Load(ctx, tenantID)
	if err != nil {
		return settingsmodels.DiversionSettings{}, nil, err
	}
	profile, err := m.profiles.FindByPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return settingsmodels.DiversionSettings{}, nil, dErrors.New(dErrors.CodeNotFound, "patient verification profile not found")
		}
		return settingsmodels.DiversionSettings{}, nil, dErrors.Wrap(err, dErrors.CodeInternal, "load patient profile")
	}
	return *cfg, profile, nil
}

// loadStage fetches the attempt and validates ownership and position.
func (m *Machine) loadStage(ctx context.Context, attemptID id.AttemptID, want models.State) (models.VerificationAttempt, settingsmodels.DiversionSettings, *patient.Profile, error) {
	attempt, err := m.findOwned(ctx, attemptID)
	if err != nil {
		return models.VerificationAttempt{}, settingsmodels.DiversionSettings{}, nil, err
	}
	if attempt.Terminal() {
		return models.VerificationAttempt{}, settingsmodels.DiversionSettings{}, nil,
			dErrors.New(dErrors.CodeConflict, "attempt already reached a terminal state")
	}
	if attempt.State != want {
		return models.VerificationAttempt{}, settingsmodels.DiversionSettings{}, nil,
			dErrors.New(dErrors.CodeConflict, "submission does not match the attempt's current stage")
	}
	cfg, profile, err := m.policyFor(ctx, attempt.TenantID, attempt.PatientID)
	if err != nil {
		return models.VerificationAttempt{}, settingsmodels.DiversionSettings{}, nil, err
	}
	return *attempt, cfg, profile, nil
}

func (m *Machine) findOwned(ctx context.Context, attemptID id.AttemptID) (*models.VerificationAttempt, error) {
	attempt, err := m.attempts.FindByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "verification attempt not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load verification attempt")
	}
	if caller := requestcontext.PatientID(ctx); !caller.IsNil() && caller != attempt.PatientID {
		return nil, dErrors.New(dErrors.CodeForbidden, "attempt belongs to another patient")
	}
	return attempt, nil
}

// recoverableFailure charges one retry against the current stage and leaves
// the attempt where it is, unless the budget is exhausted, in which case the
// attempt terminates.
func (m *Machine) recoverableFailure(ctx context.Context, attempt models.VerificationAttempt, cfg settingsmodels.DiversionSettings, profile *patient.Profile, cause error) (*Result, error) {
	attempt.StageRetries++
	if attempt.StageRetries > cfg.StageRetryLimit {
		return m.failTerminal(ctx, attempt, cfg, profile, dErrors.CodeRetryLimitExceeded, "", false)
	}
	if err := m.attempts.Update(ctx, attempt); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist stage retry")
	}
	return nil, cause
}

// failTerminal settles the attempt as failed, appends the completion audit
// entry, and feeds the violation ledger and escalation rules. The audit
// write is fail-closed; the violation and escalation paths are logged but
// never override the outcome.
func (m *Machine) failTerminal(
	ctx context.Context,
	attempt models.VerificationAttempt,
	cfg settingsmodels.DiversionSettings,
	profile *patient.Profile,
	reason dErrors.Code,
	kind violationmodels.Kind,
	timeCritical bool,
) (*Result, error) {
	now := requestcontext.Now(ctx)
	attempt.State = models.StateFailed
	attempt.FailureReason = reason
	attempt.CompletedAt = timePtr(now)
	if err := m.persistTransition(ctx, attempt, audit.StageCompleted, "failed", string(reason)); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.AttemptsCompleted.WithLabelValues("failed", string(reason)).Inc()
	}
	m.logger.WarnContext(ctx, "verification attempt failed",
		"attempt_id", attempt.ID.String(),
		"patient_id", attempt.PatientID.String(),
		"reason", string(reason),
		"request_id", requestcontext.RequestID(ctx),
	)

	if kind != "" {
		rec := violationmodels.ViolationRecord{
			TenantID:  attempt.TenantID,
			PatientID: attempt.PatientID,
			AttemptID: attempt.ID,
			Kind:      kind,
		}
		recent, err := m.violations.Record(ctx, rec, cfg.RiskScoreWindowDays)
		if err != nil {
			m.logger.ErrorContext(ctx, "violation record failed",
				"attempt_id", attempt.ID.String(), "error", err)
		} else if err := m.escalator.OnViolation(ctx, kind, recent, cfg, timeCritical); err != nil {
			m.logger.ErrorContext(ctx, "escalation evaluation failed",
				"attempt_id", attempt.ID.String(), "error", err)
		}
	}
	return m.result(attempt, cfg, profile, now), nil
}

// persistTransition writes the attempt and the matching audit entry. Both
// must land; a lost audit entry fails the operation.
func (m *Machine) persistTransition(ctx context.Context, attempt models.VerificationAttempt, stage audit.Stage, outcome, detail string) error {
	if err := m.attempts.Update(ctx, attempt); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.New(dErrors.CodeConflict, "attempt already reached a terminal state")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist attempt transition")
	}
	entry := m.entry(attempt, stage, outcome, detail)
	if stage == audit.StageCompleted && attempt.State == models.StateFailed {
		entry.Reason = string(attempt.FailureReason)
	}
	if err := m.auditor.Emit(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "audit stage transition")
	}
	return nil
}

func (m *Machine) entry(attempt models.VerificationAttempt, stage audit.Stage, outcome, detail string) audit.Entry {
	return audit.Entry{
		Category:  audit.CategoryCompliance,
		TenantID:  attempt.TenantID,
		PatientID: attempt.PatientID,
		AttemptID: attempt.ID,
		UnitID:    attempt.UnitID,
		Stage:     stage,
		Outcome:   outcome,
		Detail:    detail,
	}
}

func (m *Machine) result(attempt models.VerificationAttempt, cfg settingsmodels.DiversionSettings, profile *patient.Profile, now time.Time) *Result {
	res := &Result{
		Attempt:         attempt,
		WindowRemaining: dosingwindow.Remaining(now, cfg.DosingWindow, profile.Location()),
	}
	if attempt.State == models.StateFailed {
		res.EmergencyContact = cfg.EmergencyContact
	}
	return res
}

func (m *Machine) observeStage(stage string, start time.Time) {
	if m.metrics != nil {
		m.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func timePtr(t time.Time) *time.Time {
	copied := t
	return &copied
}
