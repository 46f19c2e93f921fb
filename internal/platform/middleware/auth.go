package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	id "dosegate/pkg/domain"
	"dosegate/pkg/requestcontext"
)

// TokenValidator validates bearer tokens issued to patient devices and admin
// consoles.
type TokenValidator interface {
	ValidateToken(tokenString string) (*TokenClaims, error)
}

// TokenClaims carries the identity bound into a verified token.
type TokenClaims struct {
	TenantID  id.TenantID
	PatientID id.PatientID
	DeviceID  id.DeviceID
	Admin     bool
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}

// RequireAuth validates the bearer token and stores tenant, patient, and
// device identity in the context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx),
				)
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				unauthorized(w, "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithTenantID(ctx, claims.TenantID)
			ctx = requestcontext.WithPatientID(ctx, claims.PatientID)
			ctx = requestcontext.WithDeviceID(ctx, claims.DeviceID)
			ctx = requestcontext.WithAdmin(ctx, claims.Admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates settings and exception management behind admin-scoped
// tokens. Must be mounted after RequireAuth.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if !requestcontext.IsAdmin(ctx) {
				logger.WarnContext(ctx, "forbidden - admin scope required",
					"request_id", GetRequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
