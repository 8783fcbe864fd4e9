package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (b *recordingBackend) Name() string { return "recording" }

func (b *recordingBackend) Send(_ context.Context, message string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.messages = append(b.messages, message)
	return nil
}

func TestAlertDelivers(t *testing.T) {
	backend := &recordingBackend{}
	s := New(backend, t.TempDir())

	assert.True(t, s.Alert(context.Background(), "engine is down", "engine_down", time.Minute))
	assert.Equal(t, []string{"engine is down"}, backend.messages)
}

func TestAlertCooldownSuppresses(t *testing.T) {
	backend := &recordingBackend{}
	s := New(backend, t.TempDir())
	ctx := context.Background()

	assert.True(t, s.Alert(ctx, "first", "key1", time.Hour))
	assert.False(t, s.Alert(ctx, "second", "key1", time.Hour))
	assert.Len(t, backend.messages, 1)

	// A different key is independent.
	assert.True(t, s.Alert(ctx, "other", "key2", time.Hour))
}

func TestAlertCooldownExpires(t *testing.T) {
	backend := &recordingBackend{}
	s := New(backend, t.TempDir())
	ctx := context.Background()

	now := time.Now()
	s.SetNow(func() time.Time { return now })
	require.True(t, s.Alert(ctx, "first", "key", time.Minute))
	require.False(t, s.Alert(ctx, "again", "key", time.Minute))

	// Advance past the window.
	s.SetNow(func() time.Time { return now.Add(2 * time.Minute) })
	assert.True(t, s.Alert(ctx, "after cooldown", "key", time.Minute))
	assert.Len(t, backend.messages, 2)
}

func TestAlertEmptyKeySkipsCooldown(t *testing.T) {
	backend := &recordingBackend{}
	s := New(backend, t.TempDir())
	ctx := context.Background()

	assert.True(t, s.Alert(ctx, "one", "", time.Hour))
	assert.True(t, s.Alert(ctx, "two", "", time.Hour))
	assert.Len(t, backend.messages, 2)
}

func TestAlertSwallowsBackendFailure(t *testing.T) {
	backend := &recordingBackend{err: errors.New("network down")}
	s := New(backend, t.TempDir())

	assert.False(t, s.Alert(context.Background(), "doomed", "key", time.Minute))

	// A failed delivery must not start the cooldown.
	backend.err = nil
	assert.True(t, s.Alert(context.Background(), "retry", "key", time.Minute))
}

func TestAlertNoBackend(t *testing.T) {
	s := New(nil, t.TempDir())
	assert.False(t, s.Alert(context.Background(), "nobody listening", "key", time.Minute))
}

func TestSanitizeKey(t *testing.T) {
	assert.Equal(t, "pulse_failed_12", sanitizeKey("pulse_failed_12"))
	assert.Equal(t, "a_b_c-d", sanitizeKey("a/b c-d"))
	assert.Equal(t, "___", sanitizeKey("€/\\"))
}

func TestTelegramBackendSend(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewTelegramBackend("tok123", "chat456")
	b.SetBaseURL(srv.URL)

	require.NoError(t, b.Send(context.Background(), "hello operator"))
	assert.Equal(t, "/bottok123/sendMessage", gotPath)
	assert.Equal(t, "chat456", gotBody["chat_id"])
	assert.Equal(t, "hello operator", gotBody["text"])
}

func TestTelegramBackendTruncates(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotText = body["text"]
	}))
	defer srv.Close()

	b := NewTelegramBackend("tok", "chat")
	b.SetBaseURL(srv.URL)

	require.NoError(t, b.Send(context.Background(), strings.Repeat("a", 5000)))
	assert.Len(t, gotText, telegramMessageLimit)
}

func TestTelegramBackendNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewTelegramBackend("tok", "chat")
	b.SetBaseURL(srv.URL)
	assert.Error(t, b.Send(context.Background(), "anyone there"))
}

func TestResolveBackend(t *testing.T) {
	b, err := ResolveBackend("", "tok", "chat")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "telegram", b.Name())

	b, err = ResolveBackend("", "", "")
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = ResolveBackend("telegram", "", "")
	assert.Error(t, err)

	_, err = ResolveBackend("pager", "tok", "chat")
	assert.Error(t, err)
}
