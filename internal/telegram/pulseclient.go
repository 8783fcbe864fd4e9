package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PulseClient posts pulses to the daemon's HTTP ingress.
type PulseClient struct {
	apiURL   string
	apiToken string
	client   *http.Client
}

// NewPulseClient builds a client for the ingress at apiURL.
func NewPulseClient(apiURL, apiToken string) *PulseClient {
	return &PulseClient{
		apiURL:   apiURL,
		apiToken: apiToken,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// TriggerPulse schedules an immediate critical pulse for an inbound user
// message and returns the new pulse id.
func (c *PulseClient) TriggerPulse(ctx context.Context, prompt string) (int64, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":       prompt,
		"scheduled_at": "now",
		"priority":     "critical",
		"source":       "telegram",
		"tags":         []string{"telegram", "user_message"},
	})
	if err != nil {
		return 0, err
	}

	url := c.apiURL + "/api/pulse/schedule"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach pulse api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return 0, fmt.Errorf("pulse api returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		PulseID int64 `json:"pulse_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("pulse api returned invalid JSON: %w", err)
	}
	return parsed.PulseID, nil
}
