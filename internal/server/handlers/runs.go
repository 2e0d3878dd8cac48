package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/freema/askshell/internal/apperror"
	"github.com/freema/askshell/internal/logger"
	"github.com/freema/askshell/internal/submit"
)

// RunHandler handles run-related HTTP endpoints.
type RunHandler struct {
	service *submit.Service
}

// NewRunHandler creates a new run handler.
func NewRunHandler(service *submit.Service) *RunHandler {
	return &RunHandler{service: service}
}

// Create handles POST /api/v1/runs.
func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req submit.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	run, err := h.service.Submit(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         run.ID,
		"status":     run.Status(),
		"prefix":     run.Config().PrintPrefix,
		"created_at": run.CreatedAt,
	})
}

// List handles GET /api/v1/runs.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	runs, err := h.service.List(r.Context(), limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":      runs,
		"in_flight": h.service.InFlight(),
	})
}

// Get handles GET /api/v1/runs/{runID}.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// Kill handles POST /api/v1/runs/{runID}/kill. ?immediate=true skips SIGINT.
func (h *RunHandler) Kill(w http.ResponseWriter, r *http.Request) {
	immediate, _ := strconv.ParseBool(r.URL.Query().Get("immediate"))
	runID := chi.URLParam(r, "runID")
	sum, err := h.service.Kill(r.Context(), runID, immediate)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("run killed", "run_id", runID, "immediate", immediate, "status", sum.Status)
	writeJSON(w, http.StatusOK, sum)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, status, map[string]any{
			"error":   http.StatusText(status),
			"message": appErr.Message,
			"fields":  appErr.Fields,
		})
		return
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}
