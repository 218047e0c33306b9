package scheduler

import (
	"time"

	"github.com/paranoiabot/reminderd/internal/models"
	"github.com/paranoiabot/reminderd/internal/recurrence"
)

// The functions in this file implement the per-reminder state machine. They
// mutate the reminder in memory only; the caller persists the result while
// holding the reminder's lock.

// activate moves a due reminder into the active state. anchor is the moment
// the activation condition was satisfied and becomes the base for escalation
// offsets.
func activate(r *models.Reminder, anchor time.Time) {
	r.Status = models.ReminderStatusActive
	r.ActivatedAt = &anchor
}

// recordEscalation books one dispatched escalation attempt. The attempt
// counts even when delivery later fails: failure is reported, not replayed.
func recordEscalation(r *models.Reminder, at time.Time) {
	r.EscalationCount++
	r.LastEscalationAt = &at
}

// complete acknowledges the reminder. A recurring reminder with a further
// occurrence re-arms in place: same id, pending status, escalation
// bookkeeping reset. Without a further occurrence the reminder is terminal.
func complete(r *models.Reminder, now time.Time) {
	if r.Recurrence != nil {
		if next := recurrence.Next(r.Recurrence, now, r.ScheduledFor); next != nil {
			rearm(r, *next)
			return
		}
	}
	r.Status = models.ReminderStatusCompleted
	r.CompletedAt = &now
}

// snooze defers the reminder by delay from now and resets the escalation
// cycle. The reminder re-activates when the new scheduled time arrives.
func snooze(r *models.Reminder, now time.Time, delay time.Duration) {
	r.Status = models.ReminderStatusSnoozed
	r.ScheduledFor = now.Add(delay)
	resetCycle(r)
}

// cancel terminates the reminder. No further escalation attempts are
// dispatched once this is persisted.
func cancel(r *models.Reminder) {
	r.Status = models.ReminderStatusCancelled
}

// rearm resets the reminder for its next occurrence.
func rearm(r *models.Reminder, next time.Time) {
	r.Status = models.ReminderStatusPending
	r.ScheduledFor = next
	r.CompletedAt = nil
	resetCycle(r)
}

func resetCycle(r *models.Reminder) {
	r.EscalationCount = 0
	r.LastEscalationAt = nil
	r.ActivatedAt = nil
	r.GeoTriggeredAt = nil
}
