package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthHandler_Health(t *testing.T) {
	h := NewHealthHandler().AddCheck("store", func(context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestHealthHandler_Ready(t *testing.T) {
	failing := errors.New("redis: connection refused")
	storeErr := error(nil)

	h := NewHealthHandler().
		AddCheck("store", func(context.Context) error { return storeErr }).
		AddCheck("eventbus", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, map[string]any{"store": "ok", "eventbus": "ok"}, body["checks"])

	storeErr = failing
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, failing.Error(), body["checks"].(map[string]any)["store"])
}

func TestHealthHandler_DrainingIsNotReady(t *testing.T) {
	h := NewHealthHandler()
	h.SetReady(false)

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthHandler_Readiness(t *testing.T) {
	storeErr := error(nil)
	h := NewHealthHandler().
		AddCheck("store", func(context.Context) error { return storeErr }).
		AddCheck("eventbus", func(context.Context) error { return nil })
	require.NoError(t, h.Readiness(context.Background()))

	storeErr = errors.New("disk full")
	err := h.Readiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store: disk full")
	assert.NotContains(t, err.Error(), "eventbus")

	storeErr = nil
	h.SetReady(false)
	assert.EqualError(t, h.Readiness(context.Background()), "draining")
}

func TestHealthHandler_CheckTimeout(t *testing.T) {
	h := NewHealthHandler().AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.SetCheckTimeout(10 * time.Millisecond)

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, context.DeadlineExceeded.Error(), decodeBody(t, rec)["checks"].(map[string]any)["slow"])
}

func TestHealthHandler_Status(t *testing.T) {
	h := NewHealthHandler()
	h.SetInfo(func() map[string]any { return map[string]any{"processes": []string{"orderflow"}} })

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["healthy"])
	assert.Equal(t, []any{"orderflow"}, body["processes"])
	assert.Contains(t, body["version"], "version")
}
