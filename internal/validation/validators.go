package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/paranoiabot/reminderd/internal/models"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	// Register custom validators for enums
	// These should never fail in normal operation, but log if they do
	if err := Validate.RegisterValidation("reminder_status", validateReminderStatus); err != nil {
		panic(fmt.Sprintf("failed to register reminder_status validator: %v", err))
	}
	if err := Validate.RegisterValidation("recurrence_type", validateRecurrenceType); err != nil {
		panic(fmt.Sprintf("failed to register recurrence_type validator: %v", err))
	}
	if err := Validate.RegisterValidation("geozone_trigger", validateGeozoneTrigger); err != nil {
		panic(fmt.Sprintf("failed to register geozone_trigger validator: %v", err))
	}
	if err := Validate.RegisterValidation("channel", validateChannel); err != nil {
		panic(fmt.Sprintf("failed to register channel validator: %v", err))
	}
}

// validateReminderStatus validates that a string is a valid ReminderStatus enum value
func validateReminderStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	switch models.ReminderStatus(value) {
	case models.ReminderStatusPending, models.ReminderStatusActive, models.ReminderStatusSnoozed,
		models.ReminderStatusCompleted, models.ReminderStatusCancelled:
		return true
	default:
		return false
	}
}

// validateRecurrenceType validates that a string is a valid RecurrenceType enum value
func validateRecurrenceType(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	switch models.RecurrenceType(value) {
	case models.RecurrenceDaily, models.RecurrenceWeekly, models.RecurrenceMonthly:
		return true
	default:
		return false
	}
}

// validateGeozoneTrigger validates that a string is a valid GeozoneTrigger enum value
func validateGeozoneTrigger(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	switch models.GeozoneTrigger(value) {
	case models.GeozoneTriggerEnter, models.GeozoneTriggerExit:
		return true
	default:
		return false
	}
}

// validateChannel validates that a string is a valid Channel enum value
func validateChannel(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	switch models.Channel(value) {
	case models.ChannelChat, models.ChannelSMS, models.ChannelVoice:
		return true
	default:
		return false
	}
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	// Trim whitespace
	text = strings.TrimSpace(text)

	// Remove control characters except newline and tab
	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// ValidateParanoiaLevel checks that level is inside the supported range
func ValidateParanoiaLevel(level int) error {
	if level < models.MinParanoiaLevel || level > models.MaxParanoiaLevel {
		return fmt.Errorf("invalid paranoia_level: %d (must be between %d and %d)",
			level, models.MinParanoiaLevel, models.MaxParanoiaLevel)
	}
	return nil
}

// ValidateReminderStatus validates a ReminderStatus string value
func ValidateReminderStatus(value string) error {
	switch models.ReminderStatus(value) {
	case models.ReminderStatusPending, models.ReminderStatusActive, models.ReminderStatusSnoozed,
		models.ReminderStatusCompleted, models.ReminderStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid status: %s (must be 'pending', 'active', 'snoozed', 'completed', or 'cancelled')", value)
	}
}
