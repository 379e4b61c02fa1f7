// Package ops exposes the operational HTTP surface: health and engine
// status. The admin CRUD for job definitions lives in the surrounding
// system, not here.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jobd-io/jobd/internal/engine"
)

// HealthChecker verifies a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler serves /healthz and /status.
type Handler struct {
	mux     *http.ServeMux
	engine  *engine.Engine
	health  HealthChecker
	version string
}

func NewHandler(eng *engine.Engine, health HealthChecker, version string) *Handler {
	h := &Handler{
		mux:     http.NewServeMux(),
		engine:  eng,
		health:  health,
		version: version,
	}
	h.mux.HandleFunc("GET /healthz", h.handleHealthz)
	h.mux.HandleFunc("GET /status", h.handleStatus)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.health != nil {
		if err := h.health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":       h.engine.State().String(),
		"running":     h.engine.IsRunning(),
		"live_timers": h.engine.LiveTimerCount(),
		"version":     h.version,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
