package testutil

import (
	"context"
	"net/http"
	"time"

	id "dosegate/pkg/domain"
	"dosegate/pkg/requestcontext"
)

// WithTenant stamps a tenant ID on the request context the way RequireAuth
// would for an authenticated request. Invalid IDs are silently ignored.
func WithTenant(req *http.Request, tenantID string) *http.Request {
	if parsed, err := id.ParseTenantID(tenantID); err == nil {
		return req.WithContext(requestcontext.WithTenantID(req.Context(), parsed))
	}
	return req
}

// WithDeviceAuth stamps the full device identity: tenant, patient, device.
func WithDeviceAuth(req *http.Request, tenantID, patientID, deviceID string) *http.Request {
	ctx := req.Context()
	if parsed, err := id.ParseTenantID(tenantID); err == nil {
		ctx = requestcontext.WithTenantID(ctx, parsed)
	}
	if parsed, err := id.ParsePatientID(patientID); err == nil {
		ctx = requestcontext.WithPatientID(ctx, parsed)
	}
	if parsed, err := id.ParseDeviceID(deviceID); err == nil {
		ctx = requestcontext.WithDeviceID(ctx, parsed)
	}
	return req.WithContext(ctx)
}

// WithAdminAuth stamps tenant identity plus the admin flag.
func WithAdminAuth(req *http.Request, tenantID string) *http.Request {
	ctx := req.Context()
	if parsed, err := id.ParseTenantID(tenantID); err == nil {
		ctx = requestcontext.WithTenantID(ctx, parsed)
	}
	return req.WithContext(requestcontext.WithAdmin(ctx, true))
}

// WithRequestTime pins the request clock so window and expiry evaluations
// are deterministic.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// ContextAt returns a bare context with a pinned clock.
func ContextAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}
