package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondJSON(t *testing.T) {
	w := httptest.NewRecorder()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
}

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	respondError(w, http.StatusNotFound, "consumer not found")

	assert.Equal(t, http.StatusNotFound, w.Code)

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "consumer not found", response["error"])
}

func withURLParam(r *http.Request, name, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(name, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestAdminHandler_PauseConsumer_MissingID(t *testing.T) {
	h := &AdminHandler{}

	req := httptest.NewRequest(http.MethodPost, "/admin/consumers//pause", nil)
	req = withURLParam(req, "id", "")
	w := httptest.NewRecorder()

	h.PauseConsumer(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_ResumeConsumer_MissingID(t *testing.T) {
	h := &AdminHandler{}

	req := httptest.NewRequest(http.MethodPost, "/admin/consumers//resume", nil)
	req = withURLParam(req, "id", "")
	w := httptest.NewRecorder()

	h.ResumeConsumer(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminHandler_RetryDLQTask_MissingID(t *testing.T) {
	h := &AdminHandler{}

	req := httptest.NewRequest(http.MethodPost, "/admin/dlq//retry", nil)
	req = withURLParam(req, "id", "")
	w := httptest.NewRecorder()

	h.RetryDLQTask(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "task id is required", response["error"])
}

func TestAdminHandler_RemoveDLQTask_MissingID(t *testing.T) {
	h := &AdminHandler{}

	req := httptest.NewRequest(http.MethodDelete, "/admin/dlq/", nil)
	req = withURLParam(req, "id", "")
	w := httptest.NewRecorder()

	h.RemoveDLQTask(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
