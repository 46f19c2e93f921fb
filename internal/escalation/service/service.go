package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dosegate/internal/escalation/models"
	"dosegate/internal/platform/metrics"
	settingsmodels "dosegate/internal/settings/models"
	violationmodels "dosegate/internal/violation/models"
	id "dosegate/pkg/domain"
	domainerrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/platform/sentinel"
	"dosegate/pkg/requestcontext"
)

// EventStore persists escalation events.
type EventStore interface {
	Append(ctx context.Context, event models.EscalationEvent) error
	ListByPatient(ctx context.Context, patientID id.PatientID) ([]models.EscalationEvent, error)
	HasUnresolvedCallback(ctx context.Context, patientID id.PatientID) (bool, error)
	ResolveCallback(ctx context.Context, eventID id.EventID, at time.Time) error
}

// GrantStore persists location exception grants.
type GrantStore interface {
	Create(ctx context.Context, grant models.ExceptionGrant) error
	LatestByPatient(ctx context.Context, patientID id.PatientID) (models.ExceptionGrant, error)
	ExpiredUnnotified(ctx context.Context, now time.Time) ([]models.ExceptionGrant, error)
	MarkExpiredNotified(ctx context.Context, grantID id.GrantID, at time.Time) error
}

// Notifier hands escalation events to the message broker. The synchronous
// path confirms the enqueue; the asynchronous path is fire-and-forget.
// A nil *kafka.Producer satisfies both as a no-op.
type Notifier interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	PublishAsync(ctx context.Context, topic string, key, value []byte)
}

const defaultTopic = "dosegate.escalations"

// Engine converts violation-ledger transitions into escalation events.
// Its contract ends at producing and enqueueing the event; notification
// delivery (SMS, email, push) belongs to downstream consumers.
type Engine struct {
	events   EventStore
	grants   GrantStore
	notifier Notifier
	topic    string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTopic(topic string) Option {
	return func(e *Engine) { e.topic = topic }
}

func New(events EventStore, grants GrantStore, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		events:   events,
		grants:   grants,
		notifier: notifier,
		topic:    defaultTopic,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnViolation evaluates the escalation rules against the patient's
// unresolved violations inside the rolling window. Rules run in order:
// callback threshold first, then sponsor notification. The callback event is
// sticky; while one is unresolved no duplicate is emitted. timeCritical
// selects the synchronous enqueue path when the tenant has auto-alert on.
func (e *Engine) OnViolation(
	ctx context.Context,
	kind violationmodels.Kind,
	recent []violationmodels.ViolationRecord,
	cfg settingsmodels.DiversionSettings,
	timeCritical bool,
) error {
	if len(recent) == 0 {
		return nil
	}
	sync := timeCritical && cfg.AutoAlertOnMiss
	patientID := recent[len(recent)-1].PatientID
	tenantID := recent[len(recent)-1].TenantID

	if len(recent) >= cfg.CallbackThresholdViolations {
		pending, err := e.events.HasUnresolvedCallback(ctx, patientID)
		if err != nil {
			return domainerrors.Wrap(err, domainerrors.CodeInternal, "check unresolved callback")
		}
		if !pending {
			event := models.EscalationEvent{
				TenantID:    tenantID,
				PatientID:   patientID,
				TriggeredBy: recordIDs(recent),
				Action:      models.ActionCallbackRequired,
			}
			if err := e.emit(ctx, event, sync); err != nil {
				return err
			}
		}
	}

	if cfg.NotifySponsorOnViolation && kind != violationmodels.KindReplayAttempt {
		newest := recent[len(recent)-1]
		event := models.EscalationEvent{
			TenantID:    tenantID,
			PatientID:   patientID,
			TriggeredBy: []id.RecordID{newest.ID},
			Action:      models.ActionSponsorNotified,
		}
		if err := e.emit(ctx, event, sync); err != nil {
			return err
		}
	}
	return nil
}

// GrantException issues a time-bounded geofence bypass for the patient.
func (e *Engine) GrantException(
	ctx context.Context,
	tenantID id.TenantID,
	patientID id.PatientID,
	days int,
	cfg settingsmodels.DiversionSettings,
) (models.ExceptionGrant, error) {
	if !cfg.AllowLocationExceptions {
		return models.ExceptionGrant{}, domainerrors.New(domainerrors.CodeForbidden, "location exceptions are disabled for this tenant")
	}
	if days < 1 {
		return models.ExceptionGrant{}, domainerrors.New(domainerrors.CodeInvalidInput, "exception must cover at least one day")
	}
	if days > cfg.MaxExceptionDays {
		return models.ExceptionGrant{}, domainerrors.New(domainerrors.CodeInvalidInput, "exception exceeds the tenant's maximum duration")
	}

	now := requestcontext.Now(ctx)
	grant := models.ExceptionGrant{
		ID:        id.GrantID(uuid.New()),
		TenantID:  tenantID,
		PatientID: patientID,
		GrantedAt: now,
		ExpiresAt: now.AddDate(0, 0, days),
	}
	if err := e.grants.Create(ctx, grant); err != nil {
		return models.ExceptionGrant{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "create exception grant")
	}

	event := models.EscalationEvent{
		TenantID:  tenantID,
		PatientID: patientID,
		Action:    models.ActionExceptionGranted,
	}
	if err := e.emit(ctx, event, false); err != nil {
		return models.ExceptionGrant{}, err
	}
	return grant, nil
}

// HasActiveException reports whether an unexpired exception currently covers
// the patient. Expiry is detected lazily here; the first caller to observe an
// expired grant emits the exception-expired event.
func (e *Engine) HasActiveException(ctx context.Context, patientID id.PatientID) (bool, error) {
	grant, err := e.grants.LatestByPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, domainerrors.Wrap(err, domainerrors.CodeInternal, "load exception grant")
	}
	now := requestcontext.Now(ctx)
	if grant.Active(now) {
		return true, nil
	}
	if grant.ExpiredEventAt == nil {
		e.expireGrant(ctx, grant, now)
	}
	return false, nil
}

// Sweep emits exception-expired events for grants that lapsed without any
// verification attempt observing them. Safe to run concurrently with the
// lazy path; the store's compare-and-set makes emission exactly-once.
func (e *Engine) Sweep(ctx context.Context) error {
	now := requestcontext.Now(ctx)
	expired, err := e.grants.ExpiredUnnotified(ctx, now)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "list expired grants")
	}
	for _, grant := range expired {
		e.expireGrant(ctx, grant, now)
	}
	return nil
}

// RunSweeper invokes Sweep on the given interval until the context ends.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				e.logger.ErrorContext(ctx, "exception sweep failed", "error", err)
			}
		}
	}
}

// ResolveCallback marks a callback-required event handled by a human.
func (e *Engine) ResolveCallback(ctx context.Context, eventID id.EventID) error {
	err := e.events.ResolveCallback(ctx, eventID, requestcontext.Now(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return domainerrors.Wrap(err, domainerrors.CodeNotFound, "escalation event not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return domainerrors.Wrap(err, domainerrors.CodeInvariantViolation, "event is not a callback requirement")
	default:
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "resolve callback event")
	}
}

// EventsForPatient returns the patient's escalation history, oldest first.
func (e *Engine) EventsForPatient(ctx context.Context, patientID id.PatientID) ([]models.EscalationEvent, error) {
	events, err := e.events.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "list escalation events")
	}
	return events, nil
}

func (e *Engine) expireGrant(ctx context.Context, grant models.ExceptionGrant, now time.Time) {
	err := e.grants.MarkExpiredNotified(ctx, grant.ID, now)
	if err != nil {
		// Conflict means another caller won the race and already emitted.
		if !errors.Is(err, sentinel.ErrConflict) {
			e.logger.ErrorContext(ctx, "mark exception grant expired failed",
				"grant_id", grant.ID.String(), "error", err)
		}
		return
	}
	event := models.EscalationEvent{
		TenantID:  grant.TenantID,
		PatientID: grant.PatientID,
		Action:    models.ActionExceptionExpired,
	}
	if err := e.emit(ctx, event, false); err != nil {
		e.logger.ErrorContext(ctx, "emit exception expired event failed",
			"grant_id", grant.ID.String(), "error", err)
	}
}

// notification is the broker payload consumed by delivery services.
type notification struct {
	EventID   string   `json:"event_id"`
	TenantID  string   `json:"tenant_id"`
	PatientID string   `json:"patient_id"`
	Action    string   `json:"action"`
	CreatedAt string   `json:"created_at"`
	Triggered []string `json:"triggered_by,omitempty"`
}

func (e *Engine) emit(ctx context.Context, event models.EscalationEvent, sync bool) error {
	if event.ID.IsNil() {
		event.ID = id.EventID(uuid.New())
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = requestcontext.Now(ctx)
	}
	if err := e.events.Append(ctx, event); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "append escalation event")
	}
	if e.metrics != nil {
		e.metrics.EscalationsTotal.WithLabelValues(string(event.Action)).Inc()
	}
	e.logger.InfoContext(ctx, "escalation event emitted",
		"patient_id", event.PatientID.String(),
		"action", string(event.Action),
		"request_id", requestcontext.RequestID(ctx),
	)

	payload := notification{
		EventID:   event.ID.String(),
		TenantID:  event.TenantID.String(),
		PatientID: event.PatientID.String(),
		Action:    string(event.Action),
		CreatedAt: event.CreatedAt.Format(time.RFC3339Nano),
	}
	for _, recID := range event.TriggeredBy {
		payload.Triggered = append(payload.Triggered, recID.String())
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "marshal escalation notification")
	}
	key := []byte(event.PatientID.String())
	if sync {
		if err := e.notifier.Publish(ctx, e.topic, key, value); err != nil {
			// The event itself is durable; a broker outage must not fail
			// the verification outcome.
			e.logger.ErrorContext(ctx, "synchronous escalation enqueue failed",
				"event_id", event.ID.String(), "error", err)
		}
		return nil
	}
	e.notifier.PublishAsync(ctx, e.topic, key, value)
	return nil
}

func recordIDs(records []violationmodels.ViolationRecord) []id.RecordID {
	out := make([]id.RecordID, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
