// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them; services read them. Keeping the
// package free of net/http lets domain services consume request metadata
// without pulling in transport code.
//
// Usage in services (read values):
//
//	patientID := requestcontext.PatientID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "dosegate/pkg/domain"
)

type (
	tenantIDKey    struct{}
	patientIDKey   struct{}
	deviceIDKey    struct{}
	adminKey       struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need raw context.WithValue.
var (
	ContextKeyTenantID    = tenantIDKey{}
	ContextKeyPatientID   = patientIDKey{}
	ContextKeyDeviceID    = deviceIDKey{}
	ContextKeyAdmin       = adminKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// TenantID retrieves the authenticated tenant scope from the context.
func TenantID(ctx context.Context) id.TenantID {
	if v, ok := ctx.Value(ContextKeyTenantID).(id.TenantID); ok {
		return v
	}
	return id.TenantID{}
}

// WithTenantID injects a tenant ID into the context.
func WithTenantID(ctx context.Context, tenantID id.TenantID) context.Context {
	return context.WithValue(ctx, ContextKeyTenantID, tenantID)
}

// PatientID retrieves the authenticated patient from the context.
func PatientID(ctx context.Context) id.PatientID {
	if v, ok := ctx.Value(ContextKeyPatientID).(id.PatientID); ok {
		return v
	}
	return id.PatientID{}
}

// WithPatientID injects a patient ID into the context.
func WithPatientID(ctx context.Context, patientID id.PatientID) context.Context {
	return context.WithValue(ctx, ContextKeyPatientID, patientID)
}

// DeviceID retrieves the authenticated device from the context.
func DeviceID(ctx context.Context) id.DeviceID {
	if v, ok := ctx.Value(ContextKeyDeviceID).(id.DeviceID); ok {
		return v
	}
	return id.DeviceID{}
}

// WithDeviceID injects a device ID into the context.
func WithDeviceID(ctx context.Context, deviceID id.DeviceID) context.Context {
	return context.WithValue(ctx, ContextKeyDeviceID, deviceID)
}

// IsAdmin reports whether the request carries an admin-scoped token.
func IsAdmin(ctx context.Context) bool {
	v, _ := ctx.Value(ContextKeyAdmin).(bool)
	return v
}

// WithAdmin marks the context as admin-scoped.
func WithAdmin(ctx context.Context, admin bool) context.Context {
	return context.WithValue(ctx, ContextKeyAdmin, admin)
}

// RequestID retrieves the correlation ID from the context.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from the context. All operations
// within a single request observe the same "now" so that audit entries, stage
// timestamps, and window checks cannot disagree with each other. Falls back to
// time.Now for non-request contexts (workers, tests that don't care).
func Now(ctx context.Context) time.Time {
	if v, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return v
	}
	return time.Now()
}

// WithTime injects a specific time into the context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
