package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cleanpipe/core/internal/queue"
	"github.com/cleanpipe/core/internal/task"
)

// TaskHandler exposes read-only status and progress lookups for tasks
// already in the system. Task creation is the caller's responsibility via
// queue.Producer and is intentionally not reachable through this admin
// surface (§1, §3).
type TaskHandler struct {
	manager *queue.Manager
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(manager *queue.Manager) *TaskHandler {
	return &TaskHandler{manager: manager}
}

// GetStatus returns a task's current TaskStatus record.
func (h *TaskHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "task id is required")
		return
	}

	status, err := h.manager.GetTaskStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// GetProgress returns a task's current ProgressInfo record.
func (h *TaskHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "task id is required")
		return
	}

	progress, err := h.manager.GetProgress(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task not found")
			return
		}
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, progress)
}
