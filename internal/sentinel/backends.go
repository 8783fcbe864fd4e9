package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Backend delivers an alert through one external channel.
type Backend interface {
	Name() string
	Send(ctx context.Context, message string) error
}

// telegramMessageLimit is Telegram's hard cap on message length.
const telegramMessageLimit = 4096

// TelegramBackend delivers alerts via the Telegram Bot API. It deliberately
// uses its own plain HTTP client so alerts still go out when the rest of the
// system is broken.
type TelegramBackend struct {
	botToken string
	chatID   string
	client   *http.Client
	baseURL  string
}

// NewTelegramBackend builds a Telegram backend from bot credentials.
func NewTelegramBackend(botToken, chatID string) *TelegramBackend {
	return &TelegramBackend{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  "https://api.telegram.org",
	}
}

func (b *TelegramBackend) Name() string { return "telegram" }

// Send posts the message to the configured chat, truncating to the API limit.
func (b *TelegramBackend) Send(ctx context.Context, message string) error {
	if b.botToken == "" || b.chatID == "" {
		return fmt.Errorf("telegram backend not configured")
	}

	runes := []rune(message)
	if len(runes) > telegramMessageLimit {
		message = string(runes[:telegramMessageLimit])
	}

	payload, err := json.Marshal(map[string]string{
		"chat_id": b.chatID,
		"text":    message,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", b.baseURL, b.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: status %d", resp.StatusCode)
	}
	return nil
}

// SetBaseURL overrides the Telegram API host. Test hook only.
func (b *TelegramBackend) SetBaseURL(url string) { b.baseURL = url }

// ResolveBackend picks the alert backend. An explicit name wins; otherwise
// the first backend with usable credentials is chosen. Returns nil when no
// backend is available.
func ResolveBackend(name, botToken, chatID string) (Backend, error) {
	switch name {
	case "":
		if botToken != "" && chatID != "" {
			return NewTelegramBackend(botToken, chatID), nil
		}
		return nil, nil
	case "telegram":
		if botToken == "" || chatID == "" {
			return nil, fmt.Errorf("telegram backend selected but credentials are missing")
		}
		return NewTelegramBackend(botToken, chatID), nil
	default:
		return nil, fmt.Errorf("unknown sentinel backend: %q", name)
	}
}
