package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// EngineStatus is the part of the engine the health endpoint reports.
type EngineStatus interface {
	Reconciled() bool
	OpenCount() int
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode      string
	engine    EngineStatus
	checks    map[string]Check
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler reports mode and engine state and runs checks on every
// request.
func NewHealthHandler(mode string, engine EngineStatus, checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		engine:    engine,
		checks:    checks,
		startedAt: time.Now(),
		logger:    logger,
	}
}

type healthResponse struct {
	Status        string            `json:"status"`
	Mode          string            `json:"mode"`
	Reconciled    bool              `json:"reconciled"`
	OpenPositions int               `json:"open_positions"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks,omitempty"`
	Timestamp     string            `json:"timestamp"`
}

// HealthCheck answers 200 when every dependency responds and reconciliation
// has completed, 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:        "ok",
		Mode:          h.mode,
		Reconciled:    h.engine.Reconciled(),
		OpenPositions: h.engine.OpenCount(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if !resp.Reconciled {
		resp.Status = "starting"
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(names))
		}
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
