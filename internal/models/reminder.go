package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ReminderStatus represents the lifecycle state of a reminder
type ReminderStatus string

const (
	ReminderStatusPending   ReminderStatus = "pending"
	ReminderStatusActive    ReminderStatus = "active"
	ReminderStatusCompleted ReminderStatus = "completed"
	ReminderStatusSnoozed   ReminderStatus = "snoozed"
	ReminderStatusCancelled ReminderStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from the status
func (s ReminderStatus) IsTerminal() bool {
	return s == ReminderStatusCompleted || s == ReminderStatusCancelled
}

const (
	// MinParanoiaLevel is the lowest paranoia level (single notice)
	MinParanoiaLevel = 0
	// MaxParanoiaLevel is the highest paranoia level (maximal multi-channel alerting)
	MaxParanoiaLevel = 5
)

// Channel represents a delivery channel for escalation attempts
type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
)

// Reminder is the central entity: a piece of text the user must be nagged
// about at (or after) a point in time, with paranoia-driven escalation.
type Reminder struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	ChatID        int64           `json:"chat_id"`
	Text          string          `json:"text"`
	ParanoiaLevel int             `json:"paranoia_level"`
	Status        ReminderStatus  `json:"status"`
	ScheduledFor  time.Time       `json:"scheduled_for"`
	Recurrence    *RecurrenceRule `json:"recurrence,omitempty"`
	Geozone       *Geozone        `json:"geozone,omitempty"`

	// Escalation bookkeeping for the current due cycle. The scheduler is the
	// only writer of these fields.
	EscalationCount  int        `json:"escalation_count"`
	LastEscalationAt *time.Time `json:"last_escalation_at,omitempty"`

	// ActivatedAt is set when the activation condition was satisfied and is
	// the anchor for escalation offsets. Cleared on re-arm and snooze.
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	// GeoTriggeredAt is set when a matching geozone event arrived for the
	// current cycle.
	GeoTriggeredAt *time.Time `json:"geo_triggered_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Version guards updates against concurrent writers. Incremented by the
	// store on every successful Update.
	Version int64 `json:"version"`
}

// RecurrenceType represents how a reminder repeats
type RecurrenceType string

const (
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
)

// RecurrenceRule describes how a reminder re-arms after completion
type RecurrenceRule struct {
	Type       RecurrenceType `json:"type"`
	Interval   int            `json:"interval"`
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`
	EndDate    *time.Time     `json:"end_date,omitempty"`
}

// GeozoneTrigger represents enter/exit semantics for a geozone
type GeozoneTrigger string

const (
	GeozoneTriggerEnter GeozoneTrigger = "enter"
	GeozoneTriggerExit  GeozoneTrigger = "exit"
)

// Geozone is a named circular region gating reminder activation. It is owned
// by the reminder that references it and has no independent lifecycle.
type Geozone struct {
	Name      string         `json:"name"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	RadiusM   float64        `json:"radius_m"`
	Trigger   GeozoneTrigger `json:"trigger"`
}

// Contains reports whether a GPS point falls inside the zone, using the
// haversine great-circle distance.
func (z *Geozone) Contains(lat, lon float64) bool {
	const earthRadiusM = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat - z.Latitude)
	dLon := toRad(lon - z.Longitude)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(z.Latitude))*math.Cos(toRad(lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	d := 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return d <= z.RadiusM
}

// GeozoneEvent is an inbound location signal from the external location
// source (the bot client reporting enter/exit of a named zone).
type GeozoneEvent struct {
	UserID     uuid.UUID      `json:"user_id"`
	Zone       string         `json:"zone"`
	Trigger    GeozoneTrigger `json:"trigger"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Matches reports whether the event satisfies the reminder's geozone trigger
func (e *GeozoneEvent) Matches(r *Reminder) bool {
	if r.Geozone == nil || r.UserID != e.UserID {
		return false
	}
	return r.Geozone.Name == e.Zone && r.Geozone.Trigger == e.Trigger
}

// User identifies an authenticated API caller. Accounts are keyed by the
// Telegram chat they were first seen in.
type User struct {
	ID        uuid.UUID `json:"id"`
	ChatID    int64     `json:"chat_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClampParanoia clamps a paranoia level into the valid range. Used by
// normalization paths (webhook parsing defaults); the API create path rejects
// out-of-range levels instead.
func ClampParanoia(level int) int {
	if level < MinParanoiaLevel {
		return MinParanoiaLevel
	}
	if level > MaxParanoiaLevel {
		return MaxParanoiaLevel
	}
	return level
}
