package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanpipe/core/internal/logger"
)

func init() {
	logger.Init("error", false)
}

func TestTaskHandler_GetStatus_MissingID(t *testing.T) {
	h := &TaskHandler{}

	req := httptest.NewRequest(http.MethodGet, "/tasks//status", nil)
	req = withURLParam(req, "id", "")
	w := httptest.NewRecorder()

	h.GetStatus(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskHandler_GetProgress_MissingID(t *testing.T) {
	h := &TaskHandler{}

	req := httptest.NewRequest(http.MethodGet, "/tasks//progress", nil)
	req = withURLParam(req, "id", "")
	w := httptest.NewRecorder()

	h.GetProgress(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotEmpty(t, w.Body.Bytes())
}
