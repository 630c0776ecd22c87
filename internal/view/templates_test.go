package view

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func TestRenderStatusWritesPage(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = engine.RenderStatus(rec, http.StatusNotFound, "pages/404.html", TemplateData{Title: "Not found"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Page not found")
}

func TestRenderUnknownTemplateWritesNothing(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	err = engine.Render(rec, "pages/missing.html", TemplateData{})
	require.Error(t, err)
	assert.Empty(t, rec.Body.String())
}

func TestRenderTextActivationEmail(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	body, err := engine.RenderText("emails/activation.txt", map[string]any{
		"Username": "george",
		"Link":     "https://example.com/accounts/activate/MQ/tok/",
		"TTLHours": 72,
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Hi george,")
	assert.Contains(t, body, "https://example.com/accounts/activate/MQ/tok/")
	assert.Contains(t, body, "72 hours")
}
