package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"github.com/paranoiabot/reminderd/internal/database"
	"github.com/paranoiabot/reminderd/internal/gateway"
	"github.com/paranoiabot/reminderd/internal/models"
	"github.com/paranoiabot/reminderd/internal/scheduler"
	"github.com/paranoiabot/reminderd/internal/services/timeparse"
	"github.com/paranoiabot/reminderd/internal/validation"
)

const (
	// SecretTokenHeader is the header Telegram echoes back on webhook calls
	SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
	// DefaultTokenTTL is the lifetime of API tokens issued via /token
	DefaultTokenTTL = 30 * 24 * time.Hour
	// DefaultParanoiaLevel is applied when a message names no level
	DefaultParanoiaLevel = 2
	// MaxListedReminders caps the /list reply length
	MaxListedReminders = 20
)

// TelegramHandler processes Telegram webhook updates: bot commands,
// free-form reminder creation, inline-button acknowledgments, and shared
// locations.
type TelegramHandler struct {
	core       *scheduler.Core
	users      database.UserRepositoryInterface
	client     *gateway.TelegramClient
	parser     timeparse.Parser
	secret     string
	authSecret []byte
	logger     *zap.Logger
}

// NewTelegramHandler creates a new Telegram webhook handler
func NewTelegramHandler(core *scheduler.Core, users database.UserRepositoryInterface, client *gateway.TelegramClient, parser timeparse.Parser, secret string, authSecret []byte, logger *zap.Logger) *TelegramHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TelegramHandler{
		core:       core,
		users:      users,
		client:     client,
		parser:     parser,
		secret:     secret,
		authSecret: authSecret,
		logger:     logger,
	}
}

// RegisterRoutes registers the webhook route on the given router
func (h *TelegramHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.HandleWebhook).Methods("POST")
}

// HandleWebhook processes one Telegram update. It always answers 200 once
// the secret token checks out; Telegram re-delivers anything else, and a
// failed reminder parse is not worth a redelivery loop.
func (h *TelegramHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretTokenHeader)), []byte(h.secret)) != 1 {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "Invalid webhook secret")
		return
	}

	var update gateway.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid update payload")
		return
	}

	ctx := r.Context()
	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Location != nil:
		h.handleLocation(ctx, update.Message)
	case update.Message != nil && update.Message.Text != "":
		h.handleMessage(ctx, update.Message)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *TelegramHandler) handleMessage(ctx context.Context, msg *gateway.Message) {
	user, err := h.users.GetOrCreateByChatID(ctx, msg.Chat.ID)
	if err != nil {
		h.logger.Error("telegram_user_lookup_failed",
			zap.Int64("chat_id", msg.Chat.ID),
			zap.Error(err),
		)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		h.handleCommand(ctx, user, text)
		return
	}
	h.createFromText(ctx, user, text)
}

func (h *TelegramHandler) handleCommand(ctx context.Context, user *models.User, text string) {
	cmd, arg, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@") // strip bot mention in group chats
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/start", "/help":
		h.reply(ctx, user.ChatID, helpText)
	case "/list":
		h.replyList(ctx, user)
	case "/done":
		h.completeByPrefix(ctx, user, arg)
	case "/token":
		h.replyToken(ctx, user)
	default:
		h.reply(ctx, user.ChatID, "Unknown command. Try /help.")
	}
}

const helpText = `I nag you until you actually do the thing.

Send me a reminder in plain words, e.g.
  "water the plants in 2 hours"
  "standup notes every monday at 9, paranoia 4"

/list — show open reminders
/done <id prefix> — mark one done
/token — get an API token
Share a location to trigger place-based reminders.`

func (h *TelegramHandler) createFromText(ctx context.Context, user *models.User, text string) {
	text = validation.SanitizeText(text)
	if text == "" {
		return
	}

	parsed, err := h.parser.Parse(ctx, text, time.Now().UTC())
	if err != nil {
		if errors.Is(err, timeparse.ErrUnparseable) {
			h.reply(ctx, user.ChatID, "I couldn't find a time in that. Try something like \"in 20m\" or \"tomorrow at 9\".")
			return
		}
		h.logger.Error("telegram_parse_failed", zap.Error(err))
		h.reply(ctx, user.ChatID, "Something went wrong reading that, try again.")
		return
	}

	level := DefaultParanoiaLevel
	if parsed.ParanoiaLevel != nil {
		level = *parsed.ParanoiaLevel
	}

	reminder, err := h.core.Create(ctx, scheduler.CreateRequest{
		UserID:        user.ID,
		ChatID:        user.ChatID,
		Text:          parsed.Text,
		ParanoiaLevel: level,
		ScheduledFor:  parsed.At,
		Recurrence:    parsed.Recurrence,
	})
	if err != nil {
		h.logger.Error("telegram_create_failed", zap.Error(err))
		h.reply(ctx, user.ChatID, "Couldn't save that reminder, try again.")
		return
	}

	confirm := fmt.Sprintf("Got it. %q at %s (paranoia %d).",
		reminder.Text,
		reminder.ScheduledFor.Format("Mon Jan 2 15:04 MST"),
		reminder.ParanoiaLevel,
	)
	if reminder.Recurrence != nil {
		confirm += fmt.Sprintf(" Repeats %s.", reminder.Recurrence.Type)
	}
	h.reply(ctx, user.ChatID, confirm)
}

func (h *TelegramHandler) replyList(ctx context.Context, user *models.User) {
	reminders, err := h.core.ListByUser(ctx, user.ID)
	if err != nil {
		h.logger.Error("telegram_list_failed", zap.Error(err))
		return
	}

	var lines []string
	for _, r := range reminders {
		if r.Status.IsTerminal() {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s — %q, %s at %s (P%d)",
			shortID(r.ID), r.Text, r.Status, r.ScheduledFor.Format("Jan 2 15:04"), r.ParanoiaLevel))
		if len(lines) == MaxListedReminders {
			break
		}
	}
	if len(lines) == 0 {
		h.reply(ctx, user.ChatID, "Nothing open. Enjoy it while it lasts.")
		return
	}
	h.reply(ctx, user.ChatID, strings.Join(lines, "\n"))
}

func (h *TelegramHandler) completeByPrefix(ctx context.Context, user *models.User, prefix string) {
	if prefix == "" {
		h.reply(ctx, user.ChatID, "Which one? /done <id prefix> — see /list.")
		return
	}

	reminders, err := h.core.ListByUser(ctx, user.ID)
	if err != nil {
		h.logger.Error("telegram_list_failed", zap.Error(err))
		return
	}

	var match *models.Reminder
	for _, r := range reminders {
		if r.Status.IsTerminal() || !strings.HasPrefix(r.ID.String(), strings.ToLower(prefix)) {
			continue
		}
		if match != nil {
			h.reply(ctx, user.ChatID, "That prefix matches more than one reminder, add a few more characters.")
			return
		}
		match = r
	}
	if match == nil {
		h.reply(ctx, user.ChatID, "No open reminder matches that. See /list.")
		return
	}

	if _, err := h.core.Complete(ctx, match.ID); err != nil {
		h.logger.Error("telegram_complete_failed",
			zap.String("reminder_id", match.ID.String()),
			zap.Error(err),
		)
		h.reply(ctx, user.ChatID, "Couldn't complete that one, try again.")
		return
	}
	h.reply(ctx, user.ChatID, fmt.Sprintf("Done: %q", match.Text))
}

func (h *TelegramHandler) replyToken(ctx context.Context, user *models.User) {
	now := time.Now().UTC()
	tok, err := jwt.NewBuilder().
		Subject(user.ID.String()).
		IssuedAt(now).
		Expiration(now.Add(DefaultTokenTTL)).
		Build()
	if err == nil {
		var signed []byte
		signed, err = jwt.Sign(tok, jwt.WithKey(jwa.HS256, h.authSecret))
		if err == nil {
			h.reply(ctx, user.ChatID, "API token (30 days):\n"+string(signed))
			return
		}
	}
	h.logger.Error("telegram_token_failed", zap.Error(err))
	h.reply(ctx, user.ChatID, "Couldn't mint a token right now.")
}

// handleCallback processes Done / Snooze button presses on escalation
// messages. Both transitions are idempotent from the user's point of view:
// pressing Done twice just confirms the first press.
func (h *TelegramHandler) handleCallback(ctx context.Context, cb *gateway.CallbackQuery) {
	action, tag, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}
	id, err := parseAttemptTag(tag)
	if err != nil {
		h.logger.Warn("telegram_bad_callback_tag", zap.String("data", cb.Data))
		return
	}

	// Callback data is attacker-controlled: a modified client can press
	// buttons it was never shown. The sender must own the reminder.
	if cb.From == nil {
		return
	}
	reminder, err := h.core.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.logger.Error("telegram_callback_lookup_failed",
				zap.String("reminder_id", id.String()),
				zap.Error(err),
			)
		}
		return
	}
	if reminder.ChatID != cb.From.ID {
		h.logger.Warn("telegram_callback_wrong_owner",
			zap.String("reminder_id", id.String()),
			zap.Int64("sender_id", cb.From.ID),
		)
		if err := h.client.AnswerCallbackQuery(ctx, cb.ID, "That reminder isn't yours."); err != nil {
			h.logger.Warn("telegram_answer_callback_failed", zap.Error(err))
		}
		return
	}

	var ack string
	switch action {
	case "done":
		_, err = h.core.Complete(ctx, id)
		ack = "Done."
	case "snooze":
		_, err = h.core.Snooze(ctx, id, DefaultSnoozeDelay)
		ack = "Snoozed 10 minutes."
	default:
		return
	}
	if errors.Is(err, models.ErrInvalidTransition) {
		ack = "Already handled."
		err = nil
	}
	if err != nil {
		h.logger.Error("telegram_callback_failed",
			zap.String("action", action),
			zap.String("reminder_id", id.String()),
			zap.Error(err),
		)
		ack = "That didn't work, try again."
	}

	if err := h.client.AnswerCallbackQuery(ctx, cb.ID, ack); err != nil {
		h.logger.Warn("telegram_answer_callback_failed", zap.Error(err))
	}
}

// handleLocation matches a shared GPS point against the user's reminder
// geozones and raises enter events for every containing zone. Exit events
// require zone-transition tracking on the client and arrive via the API
// instead.
func (h *TelegramHandler) handleLocation(ctx context.Context, msg *gateway.Message) {
	user, err := h.users.GetOrCreateByChatID(ctx, msg.Chat.ID)
	if err != nil {
		h.logger.Error("telegram_user_lookup_failed",
			zap.Int64("chat_id", msg.Chat.ID),
			zap.Error(err),
		)
		return
	}

	reminders, err := h.core.ListByUser(ctx, user.ID)
	if err != nil {
		h.logger.Error("telegram_list_failed", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	seen := make(map[string]bool)
	for _, r := range reminders {
		if r.Status.IsTerminal() || r.Geozone == nil || seen[r.Geozone.Name] {
			continue
		}
		if !r.Geozone.Contains(msg.Location.Latitude, msg.Location.Longitude) {
			continue
		}
		seen[r.Geozone.Name] = true
		if _, err := h.core.OnGeozoneEvent(ctx, models.GeozoneEvent{
			UserID:     user.ID,
			Zone:       r.Geozone.Name,
			Trigger:    models.GeozoneTriggerEnter,
			OccurredAt: now,
		}); err != nil {
			h.logger.Error("telegram_geozone_event_failed",
				zap.String("zone", r.Geozone.Name),
				zap.Error(err),
			)
		}
	}
}

func (h *TelegramHandler) reply(ctx context.Context, chatID int64, text string) {
	if err := h.client.Send(ctx, gateway.SendOptions{ChatID: chatID, Text: text}); err != nil {
		h.logger.Warn("telegram_reply_failed",
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
	}
}

// parseAttemptTag extracts the reminder id from a "reminder-<uuid>-<n>"
// dispatch tag.
func parseAttemptTag(tag string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(tag, "reminder-")
	if !ok {
		return uuid.Nil, fmt.Errorf("malformed attempt tag %q", tag)
	}
	idx := strings.LastIndex(rest, "-")
	if idx <= 0 {
		return uuid.Nil, fmt.Errorf("malformed attempt tag %q", tag)
	}
	return uuid.Parse(rest[:idx])
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
