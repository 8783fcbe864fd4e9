package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPulseAPI returns a fake ingress that records schedule calls.
func newPulseAPI(t *testing.T) (*httptest.Server, *atomic.Int64, *[]map[string]any) {
	t.Helper()
	var calls atomic.Int64
	var bodies []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/pulse/schedule", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		calls.Add(1)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		json.NewEncoder(w).Encode(map[string]any{
			"pulse_id":     41 + calls.Load(),
			"scheduled_at": "2026-01-20T09:00:00+00:00",
			"message":      "Pulse 42 scheduled successfully",
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &bodies
}

func newListenerForTest(t *testing.T, apiURL string) *Listener {
	t.Helper()
	l := NewListener(
		NewBotClient("test-token"),
		NewPulseClient(apiURL, "secret"),
		NewOffsetFile(filepath.Join(t.TempDir(), "telegram_offset.txt")),
		"12345",
	)
	l.sleep = func(context.Context, time.Duration) {}
	return l
}

func textUpdate(updateID, chatID int64, text string) Update {
	return Update{
		UpdateID: updateID,
		Message: &Message{
			From: &User{ID: chatID, FirstName: "Alice", Username: "alice123"},
			Chat: Chat{ID: chatID, Type: "private"},
			Text: text,
		},
	}
}

func TestProcessUpdateTriggersPulse(t *testing.T) {
	api, calls, bodies := newPulseAPI(t)
	l := newListenerForTest(t, api.URL)

	l.processUpdate(context.Background(), textUpdate(1, 12345, "Can we meet tomorrow?"))

	require.EqualValues(t, 1, calls.Load())
	body := (*bodies)[0]
	assert.Equal(t, "Telegram message from Alice (@alice123): Can we meet tomorrow?", body["prompt"])
	assert.Equal(t, "critical", body["priority"])
	assert.Equal(t, "now", body["scheduled_at"])
	assert.Equal(t, "telegram", body["source"])
	assert.Equal(t, []any{"telegram", "user_message"}, body["tags"])
}

func TestProcessUpdateWithoutUsername(t *testing.T) {
	api, _, bodies := newPulseAPI(t)
	l := newListenerForTest(t, api.URL)

	u := textUpdate(1, 12345, "hello there")
	u.Message.From.Username = ""
	l.processUpdate(context.Background(), u)

	require.Len(t, *bodies, 1)
	assert.Equal(t, "Telegram message from Alice: hello there", (*bodies)[0]["prompt"])
}

func TestProcessUpdateFiltersUnauthorizedChat(t *testing.T) {
	api, calls, _ := newPulseAPI(t)
	l := newListenerForTest(t, api.URL)

	l.processUpdate(context.Background(), textUpdate(1, 99999, "intruder message"))
	assert.Zero(t, calls.Load())
}

func TestProcessUpdateSkipsNonText(t *testing.T) {
	api, calls, _ := newPulseAPI(t)
	l := newListenerForTest(t, api.URL)

	u := textUpdate(1, 12345, "")
	l.processUpdate(context.Background(), u)

	l.processUpdate(context.Background(), Update{UpdateID: 2})
	assert.Zero(t, calls.Load())
}

// A filtered update must still advance and persist the offset.
func TestRunAdvancesOffsetPastFilteredUpdates(t *testing.T) {
	api, calls, _ := newPulseAPI(t)

	var polls atomic.Int64
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/bottest-token/getMe":
			json.NewEncoder(w).Encode(map[string]any{
				"ok":     true,
				"result": map[string]any{"id": 1, "first_name": "ReeveBot", "username": "reeve_bot"},
			})
		case r.URL.Path == "/bottest-token/getUpdates":
			if polls.Add(1) == 1 {
				json.NewEncoder(w).Encode(map[string]any{
					"ok": true,
					"result": []any{map[string]any{
						"update_id": 500,
						"message": map[string]any{
							"from": map[string]any{"id": 99999, "first_name": "Mallory"},
							"chat": map[string]any{"id": 99999, "type": "private"},
							"text": "not for you",
						},
					}},
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": []any{}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer bot.Close()

	offsetPath := filepath.Join(t.TempDir(), "telegram_offset.txt")
	l := NewListener(
		NewBotClient("test-token"),
		NewPulseClient(api.URL, "secret"),
		NewOffsetFile(offsetPath),
		"12345",
	)
	l.bot.SetBaseURL(bot.URL)

	ctx, cancel := context.WithCancel(context.Background())
	l.sleep = func(ctx context.Context, _ time.Duration) {
		if polls.Load() >= 2 {
			cancel()
		}
	}

	require.NoError(t, l.Run(ctx))

	// Zero ingress calls, yet the offset moved past the filtered update.
	assert.Zero(t, calls.Load())
	got, ok := NewOffsetFile(offsetPath).Load()
	require.True(t, ok)
	assert.EqualValues(t, 501, got)
}

func TestRunFailsFastOnBadCredentials(t *testing.T) {
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer bot.Close()

	l := newListenerForTest(t, "http://localhost:0")
	l.bot.SetBaseURL(bot.URL)

	err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot verification failed")
}

func TestBackoffFor(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffFor(1))
	assert.Equal(t, 4*time.Second, backoffFor(2))
	assert.Equal(t, 256*time.Second, backoffFor(8))
	assert.Equal(t, 300*time.Second, backoffFor(9))
	assert.Equal(t, 300*time.Second, backoffFor(50))
}
