// Package device tracks the client devices a patient may verify from.
// Attempts are only accepted from registered devices, and registrations are
// capped by the tenant's MaxRegisteredDevices policy.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"golang.org/x/crypto/bcrypt"

	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/platform/sentinel"
	"dosegate/pkg/requestcontext"
)

// Registration is one device bound to a patient.
type Registration struct {
	ID                id.DeviceID
	PatientID         id.PatientID
	DisplayName       string
	PairingSecretHash string
	RegisteredAt      time.Time
}

// Store persists device registrations.
type Store interface {
	Create(ctx context.Context, reg *Registration) error
	FindByID(ctx context.Context, deviceID id.DeviceID) (*Registration, error)
	CountByPatient(ctx context.Context, patientID id.PatientID) (int, error)
}

// Service enforces the registration cap and pairing-secret checks.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register binds a new device to a patient. maxDevices of zero disables
// registration entirely for the tenant.
func (s *Service) Register(ctx context.Context, patientID id.PatientID, userAgent, pairingSecret string, maxDevices int) (*Registration, error) {
	if pairingSecret == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "pairing secret is required")
	}

	count, err := s.store.CountByPatient(ctx, patientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count registered devices")
	}
	if count >= maxDevices {
		return nil, dErrors.New(dErrors.CodeConflict, "registered device limit reached")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pairingSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash pairing secret")
	}

	reg := &Registration{
		ID:                id.DeviceID(uuid.New()),
		PatientID:         patientID,
		DisplayName:       ParseUserAgent(userAgent),
		PairingSecretHash: string(hash),
		RegisteredAt:      requestcontext.Now(ctx),
	}
	if err := s.store.Create(ctx, reg); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store device registration")
	}
	return reg, nil
}

// Verify checks that a device is registered to the patient and that the
// presented pairing secret matches.
func (s *Service) Verify(ctx context.Context, patientID id.PatientID, deviceID id.DeviceID, pairingSecret string) error {
	reg, err := s.store.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeForbidden, "device is not registered")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load device registration")
	}
	if reg.PatientID != patientID {
		return dErrors.New(dErrors.CodeForbidden, "device is registered to another patient")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(reg.PairingSecretHash), []byte(pairingSecret)); err != nil {
		return dErrors.New(dErrors.CodeForbidden, "invalid pairing secret")
	}
	return nil
}

// IsRegistered reports whether the device belongs to the patient.
func (s *Service) IsRegistered(ctx context.Context, patientID id.PatientID, deviceID id.DeviceID) (bool, error) {
	reg, err := s.store.FindByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return reg.PatientID == patientID, nil
}

// ParseUserAgent derives a human-readable display name from a User-Agent
// string for the admin device list.
func ParseUserAgent(raw string) string {
	if raw == "" {
		return "Unknown Device"
	}
	ua := useragent.New(raw)
	name, _ := ua.Browser()
	os := ua.OSInfo().Name
	// The parser echoes an unrecognized token back as the browser name.
	if name == "" || name == raw {
		name = "Unknown Browser"
	}
	if os == "" {
		os = ua.Platform()
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(fmt.Sprintf("%s on %s", name, os))
}
