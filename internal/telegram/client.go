package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// longPollTimeout is the server-side wait passed to getUpdates.
const longPollTimeout = 100

// Update is one entry from getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an inbound chat message. Non-text messages carry an empty Text.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

// User is the sender of a message.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat identifies the conversation a message arrived in.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// BotInfo is the getMe response payload.
type BotInfo struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// BotClient talks to the Telegram Bot API.
type BotClient struct {
	token   string
	baseURL string

	// pollClient has a timeout above the long-poll window; apiClient is
	// for short calls.
	pollClient *http.Client
	apiClient  *http.Client
}

// NewBotClient builds a client for the given bot token.
func NewBotClient(token string) *BotClient {
	return &BotClient{
		token:      token,
		baseURL:    "https://api.telegram.org",
		pollClient: &http.Client{Timeout: 120 * time.Second},
		apiClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBaseURL overrides the API host. Test hook only.
func (c *BotClient) SetBaseURL(url string) { c.baseURL = url }

// GetMe verifies the bot token. A 401 or 404 means the credentials are bad
// and the bridge must not start.
func (c *BotClient) GetMe(ctx context.Context) (*BotInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getMe"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getMe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("invalid bot token (401 Unauthorized)")
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("bot not found (404 Not Found)")
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("getMe returned invalid JSON: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("getMe rejected: %s", parsed.Description)
	}

	var info BotInfo
	if err := json.Unmarshal(parsed.Result, &info); err != nil {
		return nil, fmt.Errorf("getMe result malformed: %w", err)
	}
	return &info, nil
}

// GetUpdates long-polls for new updates at or after offset. A zero offset
// omits the parameter. Transient network and 5xx faults return (nil, nil)
// so the caller retries on the next cycle; 401/404 are fatal errors.
func (c *BotClient) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	params := url.Values{}
	params.Set("timeout", strconv.Itoa(longPollTimeout))
	if offset > 0 {
		params.Set("offset", strconv.FormatInt(offset, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.methodURL("getUpdates")+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.pollClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Network blip or poll timeout, retry next cycle.
		return nil, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("invalid bot token (401 Unauthorized)")
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("bot not found (404 Not Found)")
	case resp.StatusCode >= 500:
		return nil, nil
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil
	}
	if !parsed.OK {
		return nil, nil
	}

	var updates []Update
	if err := json.Unmarshal(parsed.Result, &updates); err != nil {
		return nil, nil
	}
	return updates, nil
}

func (c *BotClient) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}
