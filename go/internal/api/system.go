package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cylink/go/internal/clocksync"
	"github.com/mcdev12/cylink/go/internal/models"
)

// HealthSource reports the state of the process dependencies
type HealthSource struct {
	Backend        string
	Ping           func(ctx context.Context) error
	RelayEnabled   bool
	RelayConnected func() bool
	Connections    func() any
}

// SystemHandler serves time, effect catalog and health
type SystemHandler struct {
	clock  clockwork.Clock
	health HealthSource
}

// NewSystemHandler creates the system endpoints
func NewSystemHandler(clock clockwork.Clock, health HealthSource) *SystemHandler {
	return &SystemHandler{clock: clock, health: health}
}

type effectsResponse struct {
	Effects []models.Effect      `json:"effects"`
	Colors  []models.PresetColor `json:"colors"`
}

type healthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Backend     string    `json:"backend"`
	BackendErr  string    `json:"backendError,omitempty"`
	Relay       string    `json:"relay"`
	Connections any       `json:"connections,omitempty"`
}

// HandleEffects handles GET /api/effects
func (h *SystemHandler) HandleEffects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, effectsResponse{
		Effects: models.Effects(),
		Colors:  models.PresetColors,
	})
}

// HandleHealth handles GET /health
func (h *SystemHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock.Now(),
		Backend:   h.health.Backend,
		Relay:     "disabled",
	}

	if h.health.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.BackendErr = err.Error()
		}
	}
	if h.health.RelayEnabled {
		resp.Relay = "connected"
		if h.health.RelayConnected != nil && !h.health.RelayConnected() {
			resp.Relay = "disconnected"
			resp.Status = "degraded"
		}
	}
	if h.health.Connections != nil {
		resp.Connections = h.health.Connections()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// RegisterRoutes registers the system routes
func (h *SystemHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/time", clocksync.Handler(h.clock))
	mux.HandleFunc("GET /api/effects", h.HandleEffects)
	mux.HandleFunc("GET /health", h.HandleHealth)
}
