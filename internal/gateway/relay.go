package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/paranoiabot/reminderd/internal/models"
)

// RelaySender posts messages to an external delivery relay over HTTP. The
// sms and voice channels both use it, pointed at different relay endpoints.
// The relay owns the user's phone number; we only hand it the user id.
type RelaySender struct {
	channel    models.Channel
	endpoint   string
	authToken  string
	httpClient *http.Client
}

// NewRelaySender creates a relay-backed sender for channel.
func NewRelaySender(channel models.Channel, endpoint, authToken string) *RelaySender {
	return &RelaySender{
		channel:   channel,
		endpoint:  endpoint,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type relayPayload struct {
	Channel string `json:"channel"`
	ChatID  int64  `json:"chat_id"`
	Text    string `json:"text"`
	Urgent  bool   `json:"urgent"`
	Tag     string `json:"tag"`
}

// Send posts the message to the relay endpoint. Any non-2xx response is an
// error; the dispatcher decides whether to retry.
func (s *RelaySender) Send(ctx context.Context, opts SendOptions) error {
	body, err := json.Marshal(relayPayload{
		Channel: string(s.channel),
		ChatID:  opts.ChatID,
		Text:    opts.Text,
		Urgent:  opts.RequireAck,
		Tag:     opts.Tag,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal relay payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("relay returned status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
