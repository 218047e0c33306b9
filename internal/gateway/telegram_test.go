package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTelegramTestServer(t *testing.T, handler func(method string, body map[string]any) (int, string)) (*httptest.Server, *TelegramClient) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 2 || !strings.HasPrefix(parts[0], "bot") {
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad request body: %v", err)
		}

		status, resp := handler(parts[1], body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if _, err := w.Write([]byte(resp)); err != nil {
			t.Error(err)
		}
	}))
	t.Cleanup(srv.Close)

	client := NewTelegramClient("test-token", WithTelegramBaseURL(srv.URL))
	return srv, client
}

func TestTelegramSend(t *testing.T) {
	t.Parallel()

	var got map[string]any
	_, client := newTelegramTestServer(t, func(method string, body map[string]any) (int, string) {
		if method != "sendMessage" {
			t.Errorf("method = %s, want sendMessage", method)
		}
		got = body
		return http.StatusOK, `{"ok":true,"result":{"message_id":1}}`
	})

	err := client.Send(context.Background(), SendOptions{
		ChatID: 1234,
		Text:   "take meds",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got["chat_id"].(float64) != 1234 {
		t.Errorf("chat_id = %v", got["chat_id"])
	}
	if got["text"] != "take meds" {
		t.Errorf("text = %v", got["text"])
	}
	if got["parse_mode"] != "HTML" {
		t.Errorf("parse_mode = %v", got["parse_mode"])
	}
	if _, ok := got["reply_markup"]; ok {
		t.Error("reply_markup present without RequireAck")
	}
}

func TestTelegramSend_RequireAckAttachesButtons(t *testing.T) {
	t.Parallel()

	var got map[string]any
	_, client := newTelegramTestServer(t, func(_ string, body map[string]any) (int, string) {
		got = body
		return http.StatusOK, `{"ok":true,"result":{}}`
	})

	err := client.Send(context.Background(), SendOptions{
		ChatID:     7,
		Text:       "urgent",
		RequireAck: true,
		Tag:        "reminder-abc-3",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	markup, ok := got["reply_markup"].(map[string]any)
	if !ok {
		t.Fatal("reply_markup missing with RequireAck")
	}
	rows := markup["inline_keyboard"].([]any)
	buttons := rows[0].([]any)
	if len(buttons) != 2 {
		t.Fatalf("expected 2 buttons, got %d", len(buttons))
	}
	first := buttons[0].(map[string]any)
	if first["callback_data"] != "done:reminder-abc-3" {
		t.Errorf("callback_data = %v", first["callback_data"])
	}
}

func TestTelegramSend_APIError(t *testing.T) {
	t.Parallel()

	_, client := newTelegramTestServer(t, func(_ string, _ map[string]any) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`
	})

	err := client.Send(context.Background(), SendOptions{ChatID: 1, Text: "x"})
	if err == nil {
		t.Fatal("expected error for API failure")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error should carry the API description: %v", err)
	}
}

func TestTelegramWebhookLifecycle(t *testing.T) {
	t.Parallel()

	var setBody map[string]any
	_, client := newTelegramTestServer(t, func(method string, body map[string]any) (int, string) {
		switch method {
		case "setWebhook":
			setBody = body
			return http.StatusOK, `{"ok":true,"result":true}`
		case "getWebhookInfo":
			return http.StatusOK, `{"ok":true,"result":{"url":"https://bot.example.com/webhook","pending_update_count":3}}`
		case "deleteWebhook":
			return http.StatusOK, `{"ok":true,"result":true}`
		default:
			t.Errorf("unexpected method %s", method)
			return http.StatusNotFound, `{"ok":false}`
		}
	})

	ctx := context.Background()
	if err := client.SetWebhook(ctx, "https://bot.example.com/webhook", "s3cret"); err != nil {
		t.Fatalf("SetWebhook: %v", err)
	}
	if setBody["url"] != "https://bot.example.com/webhook" {
		t.Errorf("url = %v", setBody["url"])
	}
	if setBody["secret_token"] != "s3cret" {
		t.Errorf("secret_token = %v", setBody["secret_token"])
	}

	info, err := client.GetWebhookInfo(ctx)
	if err != nil {
		t.Fatalf("GetWebhookInfo: %v", err)
	}
	if info.URL != "https://bot.example.com/webhook" || info.PendingUpdateCount != 3 {
		t.Errorf("unexpected info %+v", info)
	}

	if err := client.DeleteWebhook(ctx); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
}
