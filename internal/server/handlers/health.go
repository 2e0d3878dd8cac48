package handlers

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/freema/askshell/internal/redisclient"
	"github.com/freema/askshell/internal/shell"
)

// HealthHandler serves /health and /ready endpoints.
type HealthHandler struct {
	scheduler *shell.Scheduler
	redis     *redisclient.Client
	startTime time.Time
	version   string
	ready     atomic.Bool
}

// NewHealthHandler creates a health handler. redis may be nil.
func NewHealthHandler(scheduler *shell.Scheduler, redis *redisclient.Client, version string) *HealthHandler {
	h := &HealthHandler{
		scheduler: scheduler,
		redis:     redis,
		startTime: time.Now(),
		version:   version,
	}
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state (false during shutdown).
func (h *HealthHandler) SetReady(v bool) {
	h.ready.Store(v)
}

type healthResponse struct {
	Status      string `json:"status"`
	State       string `json:"state"`
	Redis       string `json:"redis"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	Runs        int    `json:"runs"`
	MaxRuns     int    `json:"max_runs"`
	Workers     int    `json:"workers"`
	BusyWorkers int    `json:"busy_workers"`
}

// Health reports scheduler capacity and Redis connectivity.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	pool := h.scheduler.Pool()
	resp := healthResponse{
		Status:      "ok",
		State:       string(h.scheduler.State()),
		Redis:       "disabled",
		Version:     h.version,
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		Runs:        h.scheduler.CurrentRunCount(),
		MaxRuns:     h.scheduler.MaxRunCount(),
		Workers:     pool.Size(),
		BusyWorkers: pool.Busy(),
	}
	statusCode := http.StatusOK

	if h.redis != nil {
		resp.Redis = "connected"
		if err := h.redis.Ping(r.Context()); err != nil {
			resp.Status = "error"
			resp.Redis = "disconnected"
			statusCode = http.StatusServiceUnavailable
		}
	}
	if h.scheduler.State() == shell.StateStopped {
		resp.Status = "error"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// Ready returns 200 while runs are accepted, 503 during shutdown.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() || !h.scheduler.State().AcceptsRuns() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
