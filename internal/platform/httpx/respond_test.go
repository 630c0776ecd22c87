package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONWritesBody(t *testing.T) {
	rr := httptest.NewRecorder()
	require.NoError(t, JSON(rr, http.StatusOK, map[string]string{"status": "ok"}))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestProblemUsesStatusText(t *testing.T) {
	rr := httptest.NewRecorder()
	require.NoError(t, Problem(rr, http.StatusServiceUnavailable, "queue unavailable"))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, ProblemDetail{Title: "Service Unavailable", Status: 503, Detail: "queue unavailable"}, body)
}
