package httpserver

import (
	"net/http"
	"time"
)

// New builds the API server. Stage submissions are small JSON payloads from
// mobile clients on unreliable networks: the header timeout stays short, and
// the write timeout leaves room for the per-request handler timeout upstream.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
