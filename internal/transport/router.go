// Package transport assembles the HTTP surface: middleware chain, public
// routes, device-authenticated protocol routes, and the admin review surface.
package transport

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	devicehandler "dosegate/internal/device/handler"
	escalationhandler "dosegate/internal/escalation/handler"
	"dosegate/internal/platform/middleware"
	sessionhandler "dosegate/internal/session/handler"
	settingshandler "dosegate/internal/settings/handler"
	"dosegate/internal/transport/health"
)

const requestTimeout = 30 * time.Second

// Deps carries everything the router mounts.
type Deps struct {
	Logger      *slog.Logger
	Validator   middleware.TokenValidator
	Sessions    *sessionhandler.Handler
	Settings    *settingshandler.Handler
	Escalations *escalationhandler.Handler
	Devices     *devicehandler.Handler
	Health      *health.Handler
}

// NewRouter wires the middleware chain and mounts every handler group.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Timeout(requestTimeout))

	// Unauthenticated surface: probes, metrics, pairing exchange.
	deps.Health.Register(r)
	r.Method("GET", "/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		deps.Devices.RegisterPublic(r)
	})

	// Device-authenticated verification protocol.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.Validator, deps.Logger))
		r.Use(middleware.ContentTypeJSON)
		deps.Sessions.Register(r)
	})

	// Admin review surface.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(deps.Validator, deps.Logger))
		r.Use(middleware.RequireAdmin(deps.Logger))
		r.Use(middleware.ContentTypeJSON)
		deps.Settings.Register(r)
		deps.Escalations.Register(r)
		deps.Devices.RegisterAdmin(r)
	})
	return r
}
