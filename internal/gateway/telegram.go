package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTelegramAPIBase is the Telegram Bot API host.
const DefaultTelegramAPIBase = "https://api.telegram.org"

// TelegramClient talks to the Telegram Bot API. It implements Sender for the
// chat channel and also carries the webhook management calls used by the
// admin CLI.
type TelegramClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// TelegramOption customizes the client.
type TelegramOption func(*TelegramClient)

// WithTelegramBaseURL overrides the API host. Used in tests.
func WithTelegramBaseURL(base string) TelegramOption {
	return func(c *TelegramClient) {
		c.baseURL = base
	}
}

// WithTelegramHTTPClient overrides the underlying HTTP client.
func WithTelegramHTTPClient(client *http.Client) TelegramOption {
	return func(c *TelegramClient) {
		c.httpClient = client
	}
}

// NewTelegramClient creates a Telegram Bot API client.
func NewTelegramClient(token string, opts ...TelegramOption) *TelegramClient {
	c := &TelegramClient{
		token:   token,
		baseURL: DefaultTelegramAPIBase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessagePayload struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// Send delivers a chat message. When RequireAck is set the message carries
// Done and Snooze inline buttons keyed by the attempt tag, so the webhook can
// resolve the acknowledgement back to the reminder.
func (c *TelegramClient) Send(ctx context.Context, opts SendOptions) error {
	payload := sendMessagePayload{
		ChatID:    opts.ChatID,
		Text:      opts.Text,
		ParseMode: "HTML",
	}
	if opts.RequireAck {
		payload.ReplyMarkup = &inlineKeyboardMarkup{
			InlineKeyboard: [][]inlineKeyboardButton{{
				{Text: "Done", CallbackData: "done:" + opts.Tag},
				{Text: "Snooze 10m", CallbackData: "snooze:" + opts.Tag},
			}},
		}
	}

	var resp telegramResponse
	if err := c.call(ctx, "sendMessage", payload, &resp); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// WebhookInfo is the subset of getWebhookInfo we surface.
type WebhookInfo struct {
	URL                  string `json:"url"`
	PendingUpdateCount   int    `json:"pending_update_count"`
	LastErrorMessage     string `json:"last_error_message,omitempty"`
	LastErrorDate        int64  `json:"last_error_date,omitempty"`
	MaxConnections       int    `json:"max_connections,omitempty"`
	IPAddress            string `json:"ip_address,omitempty"`
	HasCustomCertificate bool   `json:"has_custom_certificate"`
}

// SetWebhook registers url as the bot's update webhook. secretToken, when
// non-empty, is echoed back by Telegram in the X-Telegram-Bot-Api-Secret-Token
// header so the webhook handler can authenticate updates.
func (c *TelegramClient) SetWebhook(ctx context.Context, url, secretToken string) error {
	payload := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message", "callback_query", "edited_message"},
	}
	if secretToken != "" {
		payload["secret_token"] = secretToken
	}

	var resp telegramResponse
	if err := c.call(ctx, "setWebhook", payload, &resp); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	return nil
}

// GetWebhookInfo returns the currently registered webhook.
func (c *TelegramClient) GetWebhookInfo(ctx context.Context) (*WebhookInfo, error) {
	var resp telegramResponse
	if err := c.call(ctx, "getWebhookInfo", struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to get webhook info: %w", err)
	}

	var info WebhookInfo
	if err := json.Unmarshal(resp.Result, &info); err != nil {
		return nil, fmt.Errorf("failed to decode webhook info: %w", err)
	}
	return &info, nil
}

// DeleteWebhook unregisters the bot's webhook.
func (c *TelegramClient) DeleteWebhook(ctx context.Context) error {
	var resp telegramResponse
	if err := c.call(ctx, "deleteWebhook", map[string]any{"drop_pending_updates": false}, &resp); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

// AnswerCallbackQuery acknowledges an inline button press so the client
// stops showing its progress spinner.
func (c *TelegramClient) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
	}
	if text != "" {
		payload["text"] = text
	}

	var resp telegramResponse
	if err := c.call(ctx, "answerCallbackQuery", payload, &resp); err != nil {
		return fmt.Errorf("failed to answer callback query: %w", err)
	}
	return nil
}

func (c *TelegramClient) call(ctx context.Context, method string, payload any, out *telegramResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram api error %d: %s", out.ErrorCode, out.Description)
	}
	return nil
}
