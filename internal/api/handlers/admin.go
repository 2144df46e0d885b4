// Package handlers implements the admin-server's HTTP endpoints: read-only
// visibility into the queue and dead-letter queue, plus the operational
// controls (pause/resume, manual retry, manual recovery) that an operator
// needs without ever creating a task through this surface (§1, §4).
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cleanpipe/core/internal/consumer"
	"github.com/cleanpipe/core/internal/queue"
)

// AdminHandler exposes queue, DLQ, and consumer administration endpoints.
type AdminHandler struct {
	manager  *queue.Manager
	dlq      *queue.DLQ
	recovery *queue.RecoveryManager
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(manager *queue.Manager, dlq *queue.DLQ, recovery *queue.RecoveryManager) *AdminHandler {
	return &AdminHandler{manager: manager, dlq: dlq, recovery: recovery}
}

// HealthCheck reports whether the backing Redis store is reachable.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	healthy := h.manager.IsHealthy(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]interface{}{
		"healthy": healthy,
		"time":    time.Now().UTC(),
	})
}

// QueueStats returns the current queue depth and lifetime counters.
func (h *AdminHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.GetQueueStats(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// PurgeQueue drains the pending task list. It does not touch status,
// progress, or DLQ records: it only stops already-enqueued tasks that have
// not yet been dequeued from being picked up.
func (h *AdminHandler) PurgeQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.ClearQueue(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

// ListConsumers returns the liveness info of every registered consumer.
func (h *AdminHandler) ListConsumers(w http.ResponseWriter, r *http.Request) {
	infos, err := consumer.ActiveConsumers(r.Context(), h.manager.Client())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"consumers": infos})
}

// PauseConsumer marks a consumer paused; its main loop stops dequeuing
// until ResumeConsumer is called.
func (h *AdminHandler) PauseConsumer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "consumer id is required")
		return
	}
	if err := consumer.PauseConsumer(r.Context(), h.manager.Client(), id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "paused", "consumer_id": id})
}

// ResumeConsumer clears a consumer's pause flag.
func (h *AdminHandler) ResumeConsumer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "consumer id is required")
		return
	}
	if err := consumer.ResumeConsumer(r.Context(), h.manager.Client(), id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resumed", "consumer_id": id})
}

// ListDLQ returns up to `count` entries currently in the dead letter queue
// (defaulting to 100, via the ?count= query parameter).
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	count := int64(100)
	if v := r.URL.Query().Get("count"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			count = parsed
		}
	}

	entries, err := h.dlq.List(r.Context(), count)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// RetryDLQTask re-enqueues a single DLQ'd task with a reset retry count and
// removes it from the DLQ.
func (h *AdminHandler) RetryDLQTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "task id is required")
		return
	}

	if err := h.dlq.Retry(r.Context(), h.manager, id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "retried", "task_id": id})
}

// RemoveDLQTask removes a single entry from the DLQ without retrying it.
func (h *AdminHandler) RemoveDLQTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "task id is required")
		return
	}
	if err := h.dlq.Remove(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed", "task_id": id})
}

// ClearDLQ removes every entry from the DLQ.
func (h *AdminHandler) ClearDLQ(w http.ResponseWriter, r *http.Request) {
	if err := h.dlq.Clear(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// TriggerRecovery runs one recovery pass immediately instead of waiting for
// the next scheduled interval, useful after an operator has confirmed a
// batch of consumers died.
func (h *AdminHandler) TriggerRecovery(w http.ResponseWriter, r *http.Request) {
	stats := h.recovery.Run(r.Context())
	respondJSON(w, http.StatusOK, stats)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
