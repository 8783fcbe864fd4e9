package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reevehq/reeve/internal/api"
	"github.com/reevehq/reeve/internal/common/config"
	"github.com/reevehq/reeve/internal/events/bus"
	"github.com/reevehq/reeve/internal/pulse/store"
)

const testToken = "secret-token"

func newTestServer(t *testing.T) (*api.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "pulse_queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Home:     t.TempDir(),
		DeskPath: t.TempDir(),
	}
	cfg.Database.Path = "test.db"
	cfg.API.Port = 8765
	cfg.API.Token = testToken

	return api.NewServer(cfg, st, nil, bus.NewMemoryBus()), st
}

func doJSON(t *testing.T, srv *api.Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "reeve-pulse-daemon", body["service"])
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	payload := map[string]any{"prompt": "a perfectly valid prompt", "scheduled_at": "now"}

	rec := doJSON(t, srv, http.MethodPost, "/api/pulse/schedule", "", payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/pulse/schedule", "wrong", payload)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/pulse/schedule", testToken, payload)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthFailsClosedWithoutConfiguredToken(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "pulse_queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	srv := api.NewServer(cfg, st, nil, nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/pulse/upcoming", "anything", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestScheduleRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/pulse/schedule", testToken, map[string]any{
		"prompt":       "Morning briefing at specific time",
		"scheduled_at": "2026-01-20T09:00:00Z",
		"priority":     "normal",
		"source":       "scheduler",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "2026-01-20T09:00:00+00:00", body["scheduled_at"])
	pulseID := int64(body["pulse_id"].(float64))
	assert.Equal(t, fmt.Sprintf("Pulse %d scheduled successfully", pulseID), body["message"])

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/pulse/%d", pulseID), testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode(t, rec)
	assert.Equal(t, "Morning briefing at specific time", got["prompt"])
	assert.Equal(t, "2026-01-20T09:00:00+00:00", got["scheduled_at"])
	assert.Equal(t, "scheduler", got["created_by"])
	assert.Equal(t, "pending", got["status"])
	assert.EqualValues(t, 3, got["max_retries"])
}

func TestSchedulePromptBounds(t *testing.T) {
	srv, _ := newTestServer(t)

	post := func(prompt string) int {
		rec := doJSON(t, srv, http.MethodPost, "/api/pulse/schedule", testToken, map[string]any{
			"prompt":       prompt,
			"scheduled_at": "now",
		})
		return rec.Code
	}

	assert.Equal(t, http.StatusBadRequest, post(strings.Repeat("a", 9)))
	assert.Equal(t, http.StatusOK, post(strings.Repeat("a", 10)))
	assert.Equal(t, http.StatusOK, post(strings.Repeat("a", 2000)))
	assert.Equal(t, http.StatusBadRequest, post(strings.Repeat("a", 2001)))
}

func TestScheduleValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/pulse/schedule", testToken, map[string]any{
		"prompt":       "a valid prompt body",
		"scheduled_at": "whenever you feel like it",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/pulse/schedule", testToken, map[string]any{
		"prompt":       "a valid prompt body",
		"scheduled_at": "now",
		"priority":     "mega-urgent",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleDefaultsSourceAndPriority(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/pulse/schedule", testToken, map[string]any{
		"prompt": "a prompt with nothing else set",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	pulseID := int64(decode(t, rec)["pulse_id"].(float64))

	rec = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/pulse/%d", pulseID), testToken, nil)
	got := decode(t, rec)
	assert.Equal(t, "external", got["created_by"])
	assert.Equal(t, "normal", got["priority"])
}

func TestUpcomingTruncatesPrompt(t *testing.T) {
	srv, _ := newTestServer(t)
	long := strings.Repeat("b", 150)

	rec := doJSON(t, srv, http.MethodPost, "/api/pulse/schedule", testToken, map[string]any{
		"prompt":       long,
		"scheduled_at": "in 1 hour",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/pulse/upcoming", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.EqualValues(t, 1, body["count"])
	pulses := body["pulses"].([]any)
	require.Len(t, pulses, 1)
	assert.Equal(t, long[:100]+"...", pulses[0].(map[string]any)["prompt"])
}

func TestListLimitBounds(t *testing.T) {
	srv, _ := newTestServer(t)

	get := func(query string) int {
		return doJSON(t, srv, http.MethodGet, "/api/pulse/list?"+query, testToken, nil).Code
	}

	assert.Equal(t, http.StatusOK, get("limit=1"))
	assert.Equal(t, http.StatusOK, get("limit=100"))
	assert.Equal(t, http.StatusBadRequest, get("limit=0"))
	assert.Equal(t, http.StatusBadRequest, get("limit=101"))
	assert.Equal(t, http.StatusBadRequest, get("status=bogus"))
	assert.Equal(t, http.StatusOK, get("status=failed"))
	assert.Equal(t, http.StatusOK, get("status=overdue"))
}

func TestGetPulseNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/pulse/9999", testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoints(t *testing.T) {
	srv, st := newTestServer(t)

	_, err := st.Schedule(context.Background(), store.ScheduleParams{
		ScheduledAt: time.Now().UTC().Add(-time.Hour),
		Prompt:      "an overdue pulse for stats",
	})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodGet, "/api/pulse/stats", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["pending"])
	assert.EqualValues(t, 1, body["overdue"])

	rec = doJSON(t, srv, http.MethodGet, "/api/stats", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	execBody := decode(t, rec)
	assert.Contains(t, execBody, "total_completed")
	assert.Contains(t, execBody, "success_rate")
	assert.Contains(t, execBody, "recent_failures")
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/status", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "test.db", body["database"])
	assert.EqualValues(t, 8765, body["api_port"])
}
