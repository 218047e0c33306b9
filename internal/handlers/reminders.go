package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/paranoiabot/reminderd/internal/database"
	"github.com/paranoiabot/reminderd/internal/models"
	"github.com/paranoiabot/reminderd/internal/request"
	"github.com/paranoiabot/reminderd/internal/scheduler"
	"github.com/paranoiabot/reminderd/internal/validation"
)

const (
	// MaxReminderTextLength is the maximum length for reminder text
	MaxReminderTextLength = 4096
	// DefaultSnoozeDelay is used when a snooze request names no delay
	DefaultSnoozeDelay = 10 * time.Minute
	// MaxSnoozeDelay bounds how far a single snooze may push a reminder
	MaxSnoozeDelay = 30 * 24 * time.Hour
)

// ReminderHandler handles reminder-related requests
type ReminderHandler struct {
	core     *scheduler.Core
	attempts database.DeliveryAttemptRepositoryInterface
}

// NewReminderHandler creates a new reminder handler
func NewReminderHandler(core *scheduler.Core, attempts database.DeliveryAttemptRepositoryInterface) *ReminderHandler {
	return &ReminderHandler{core: core, attempts: attempts}
}

// RegisterRoutes registers reminder routes on the given router.
// The router should already have the /reminders prefix.
func (h *ReminderHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.ListReminders).Methods("GET")
	r.HandleFunc("", h.CreateReminder).Methods("POST")
	r.HandleFunc("/{id}", h.GetReminder).Methods("GET")
	r.HandleFunc("/{id}", h.CancelReminder).Methods("DELETE")
	r.HandleFunc("/{id}/complete", h.CompleteReminder).Methods("POST")
	r.HandleFunc("/{id}/cancel", h.CancelReminder).Methods("POST")
	r.HandleFunc("/{id}/snooze", h.SnoozeReminder).Methods("POST")
	r.HandleFunc("/{id}/attempts", h.ListAttempts).Methods("GET")
}

// CreateReminderRequest represents a create reminder request
type CreateReminderRequest struct {
	Text          string                 `json:"text" validate:"required,min=1,max=4096"`
	ParanoiaLevel int                    `json:"paranoia_level" validate:"min=0,max=5"`
	ScheduledFor  time.Time              `json:"scheduled_for" validate:"required"`
	Recurrence    *models.RecurrenceRule `json:"recurrence,omitempty"`
	Geozone       *models.Geozone        `json:"geozone,omitempty"`
}

// SnoozeReminderRequest represents a snooze request. Delay is a Go duration
// string ("10m", "1h30m"); empty means DefaultSnoozeDelay.
type SnoozeReminderRequest struct {
	Delay string `json:"delay,omitempty"`
}

// respondCoreError maps scheduler errors to HTTP responses.
func respondCoreError(w http.ResponseWriter, err error) {
	switch {
	case models.IsValidation(err):
		respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, models.ErrNotFound):
		respondJSONError(w, http.StatusNotFound, "Not Found", "Reminder not found")
	case errors.Is(err, models.ErrInvalidTransition):
		respondJSONError(w, http.StatusConflict, "Conflict", "Reminder is already in a terminal state")
	default:
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Operation failed")
	}
}

// ListReminders lists reminders for the authenticated user
func (h *ReminderHandler) ListReminders(w http.ResponseWriter, r *http.Request) {
	user := request.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	var status *models.ReminderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		if err := validation.ValidateReminderStatus(s); err != nil {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		sEnum := models.ReminderStatus(s)
		status = &sEnum
	}

	reminders, err := h.core.ListByUser(r.Context(), user.ID)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to retrieve reminders")
		return
	}

	if status != nil {
		filtered := reminders[:0]
		for _, rem := range reminders {
			if rem.Status == *status {
				filtered = append(filtered, rem)
			}
		}
		reminders = filtered
	}
	if reminders == nil {
		reminders = []*models.Reminder{}
	}

	respondJSON(w, http.StatusOK, reminders)
}

// CreateReminder creates a new reminder
func (h *ReminderHandler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	user := request.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return
	}

	var req CreateReminderRequest
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil {
		if maxBytesErr, ok := err.(*http.MaxBytesError); ok {
			respondJSONError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large", fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxBytesErr.Limit))
			return
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}

	if err := validation.Validate.Struct(req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, fieldError := range validationErrors {
				respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("Validation failed: %s", fieldError.Error()))
				return
			}
		}
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Validation failed")
		return
	}

	req.Text = validation.SanitizeText(req.Text)
	if req.Text == "" {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Text is required and cannot be empty after sanitization")
		return
	}
	if len(req.Text) > MaxReminderTextLength {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("Text exceeds maximum length of %d characters", MaxReminderTextLength))
		return
	}

	reminder, err := h.core.Create(r.Context(), scheduler.CreateRequest{
		UserID:        user.ID,
		ChatID:        user.ChatID,
		Text:          req.Text,
		ParanoiaLevel: req.ParanoiaLevel,
		ScheduledFor:  req.ScheduledFor.UTC(),
		Recurrence:    req.Recurrence,
		Geozone:       req.Geozone,
	})
	if err != nil {
		respondCoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, reminder)
}

// GetReminder retrieves a reminder by ID
func (h *ReminderHandler) GetReminder(w http.ResponseWriter, r *http.Request) {
	reminder, ok := h.ownedReminder(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, reminder)
}

// CompleteReminder acknowledges a reminder. Completing a reminder that is
// already terminal answers 409 Conflict; the webhook's callback path is
// where the idempotent "Already handled." treatment lives.
func (h *ReminderHandler) CompleteReminder(w http.ResponseWriter, r *http.Request) {
	reminder, ok := h.ownedReminder(w, r)
	if !ok {
		return
	}

	updated, err := h.core.Complete(r.Context(), reminder.ID)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// CancelReminder cancels a reminder
func (h *ReminderHandler) CancelReminder(w http.ResponseWriter, r *http.Request) {
	reminder, ok := h.ownedReminder(w, r)
	if !ok {
		return
	}

	updated, err := h.core.Cancel(r.Context(), reminder.ID)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// SnoozeReminder defers a reminder by the requested delay
func (h *ReminderHandler) SnoozeReminder(w http.ResponseWriter, r *http.Request) {
	reminder, ok := h.ownedReminder(w, r)
	if !ok {
		return
	}

	delay := DefaultSnoozeDelay
	var req SnoozeReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Delay != "" {
		parsed, err := time.ParseDuration(req.Delay)
		if err != nil || parsed <= 0 {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", "Delay must be a positive duration string")
			return
		}
		if parsed > MaxSnoozeDelay {
			respondJSONError(w, http.StatusBadRequest, "Bad Request", fmt.Sprintf("Delay exceeds maximum of %s", MaxSnoozeDelay))
			return
		}
		delay = parsed
	}

	updated, err := h.core.Snooze(r.Context(), reminder.ID, delay)
	if err != nil {
		respondCoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// ListAttempts returns the delivery history for a reminder
func (h *ReminderHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	reminder, ok := h.ownedReminder(w, r)
	if !ok {
		return
	}

	attempts, err := h.attempts.ListByReminder(r.Context(), reminder.ID)
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to retrieve delivery attempts")
		return
	}
	if attempts == nil {
		attempts = []*models.DeliveryAttempt{}
	}

	respondJSON(w, http.StatusOK, attempts)
}

// ownedReminder resolves the {id} path variable to a reminder owned by the
// authenticated user, writing the error response itself on failure.
func (h *ReminderHandler) ownedReminder(w http.ResponseWriter, r *http.Request) (*models.Reminder, bool) {
	user := request.UserFromContext(r)
	if user == nil {
		respondJSONError(w, http.StatusUnauthorized, "Unauthorized", "User not found in context")
		return nil, false
	}

	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid reminder ID")
		return nil, false
	}

	reminder, err := h.core.Get(r.Context(), id)
	if err != nil {
		respondCoreError(w, err)
		return nil, false
	}
	if reminder.UserID != user.ID {
		respondJSONError(w, http.StatusForbidden, "Forbidden", "Reminder does not belong to user")
		return nil, false
	}
	return reminder, true
}
