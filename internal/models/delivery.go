package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the outcome of one channel delivery.
type DeliveryStatus string

const (
	// DeliverySent means the channel accepted the message.
	DeliverySent DeliveryStatus = "sent"
	// DeliveryFailed means delivery was attempted and gave up after retries.
	DeliveryFailed DeliveryStatus = "failed"
	// DeliverySkipped means the attempt was dropped before any channel I/O,
	// e.g. the reminder was completed or cancelled while the job was queued.
	DeliverySkipped DeliveryStatus = "skipped"
)

// DeliveryAttempt records one escalation attempt on one channel.
type DeliveryAttempt struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	ReminderID uuid.UUID      `json:"reminder_id" db:"reminder_id"`
	Attempt    int            `json:"attempt" db:"attempt"`
	Channel    Channel        `json:"channel" db:"channel"`
	Status     DeliveryStatus `json:"status" db:"status"`
	Detail     string         `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}
