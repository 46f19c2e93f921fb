package health

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dosegate/internal/transport/shared"
)

// Pinger checks one backing dependency.
type Pinger interface {
	Health(ctx context.Context) error
}

// PingerFunc adapts a bare function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Health(ctx context.Context) error { return f(ctx) }

// Handler serves liveness and readiness probes. Liveness is unconditional;
// readiness pings the backing stores so a broken dependency drains traffic.
type Handler struct {
	deps map[string]Pinger
}

func New(deps map[string]Pinger) *Handler {
	return &Handler{deps: deps}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.handleLive)
	r.Get("/readyz", h.handleReady)
}

func (h *Handler) handleLive(w http.ResponseWriter, _ *http.Request) {
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := map[string]string{}
	healthy := true
	for name, dep := range h.deps {
		if dep == nil {
			status[name] = "not configured"
			continue
		}
		if err := dep.Health(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	shared.WriteJSON(w, code, status)
}
