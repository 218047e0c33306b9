package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paranoiabot/reminderd/internal/escalation"
	"github.com/paranoiabot/reminderd/internal/models"
	"go.uber.org/zap"
)

// Store is the durable, authoritative reminder collection. The keyed mutex
// only serializes writers inside one process; the server and scheduler
// binaries each run their own Core over the same store, so Update must
// reject writes based on a stale read with models.ErrStaleReminder (the
// Core re-reads and re-applies on conflict).
type Store interface {
	Insert(ctx context.Context, r *models.Reminder) error
	Get(ctx context.Context, id uuid.UUID) (*models.Reminder, error)
	// Update persists r only if the stored row still carries r.Version,
	// returning models.ErrStaleReminder otherwise.
	Update(ctx context.Context, r *models.Reminder) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Reminder, error)
	// ListSchedulable returns all reminders not in a terminal state.
	ListSchedulable(ctx context.Context) ([]*models.Reminder, error)
}

// Dispatcher receives escalation attempts for delivery. Implementations are
// expected to return quickly (enqueue, not deliver); slow channel I/O happens
// in the dispatch worker so a failing channel never stalls the tick.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

// DispatchRequest describes one escalation attempt to deliver.
type DispatchRequest struct {
	ReminderID uuid.UUID        `json:"reminder_id"`
	UserID     uuid.UUID        `json:"user_id"`
	ChatID     int64            `json:"chat_id"`
	Attempt    int              `json:"attempt"` // 1-based escalation attempt index
	Channels   []models.Channel `json:"channels"`
	Text       string           `json:"text"`
	RequireAck bool             `json:"require_ack"`
	Tag        string           `json:"tag"` // dedup tag, stable per (reminder, attempt)
}

// GeozoneGate selects how scheduled time and geozone combine for reminders
// that carry both.
type GeozoneGate string

const (
	// GateAnd requires both the scheduled time and the geozone event
	// (time gates geofence relevance). Default.
	GateAnd GeozoneGate = "and"
	// GateOr activates on whichever condition is satisfied first.
	GateOr GeozoneGate = "or"
)

// Core owns the reminder collection and is the only writer of reminder
// state. Explicit user transitions and the tick loop may run concurrently;
// per-reminder locking keeps each reminder's state machine serialized.
type Core struct {
	store      Store
	policy     *escalation.Policy
	dispatcher Dispatcher
	gate       GeozoneGate
	locks      *keyedMutex
	logger     *zap.Logger
}

// New creates a scheduler core.
func New(store Store, policy *escalation.Policy, dispatcher Dispatcher, gate GeozoneGate, logger *zap.Logger) *Core {
	if gate != GateOr {
		gate = GateAnd
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Core{
		store:      store,
		policy:     policy,
		dispatcher: dispatcher,
		gate:       gate,
		locks:      newKeyedMutex(),
		logger:     logger,
	}
}

// CreateRequest is the validated input for Create.
type CreateRequest struct {
	UserID        uuid.UUID
	ChatID        int64
	Text          string
	ParanoiaLevel int
	ScheduledFor  time.Time
	Recurrence    *models.RecurrenceRule
	Geozone       *models.Geozone
}

// Create validates the request and inserts a new pending reminder.
// Out-of-range paranoia levels are rejected, not clamped.
func (c *Core) Create(ctx context.Context, req CreateRequest) (*models.Reminder, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, models.NewValidationError("text", "must not be empty")
	}
	if req.ParanoiaLevel < models.MinParanoiaLevel || req.ParanoiaLevel > models.MaxParanoiaLevel {
		return nil, models.NewValidationError("paranoia_level",
			fmt.Sprintf("must be between %d and %d", models.MinParanoiaLevel, models.MaxParanoiaLevel))
	}
	if req.ScheduledFor.IsZero() {
		return nil, models.NewValidationError("scheduled_for", "must be a resolvable timestamp")
	}
	if err := validateRecurrence(req.Recurrence); err != nil {
		return nil, err
	}
	if err := validateGeozone(req.Geozone); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	reminder := &models.Reminder{
		ID:            uuid.New(),
		UserID:        req.UserID,
		ChatID:        req.ChatID,
		Text:          req.Text,
		ParanoiaLevel: req.ParanoiaLevel,
		Status:        models.ReminderStatusPending,
		ScheduledFor:  req.ScheduledFor,
		Recurrence:    req.Recurrence,
		Geozone:       req.Geozone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := c.store.Insert(ctx, reminder); err != nil {
		return nil, fmt.Errorf("failed to insert reminder: %w", err)
	}

	c.logger.Info("reminder_created",
		zap.String("reminder_id", reminder.ID.String()),
		zap.String("user_id", reminder.UserID.String()),
		zap.Int("paranoia_level", reminder.ParanoiaLevel),
		zap.Time("scheduled_for", reminder.ScheduledFor),
	)
	return reminder, nil
}

// Tick evaluates every non-terminal reminder against now: activates due
// reminders and dispatches any escalation attempts whose offset has elapsed.
// Safe to call at any cadence; attempts missed between coarse ticks are
// caught up in order. An error on one reminder never prevents processing of
// the rest.
func (c *Core) Tick(ctx context.Context, now time.Time) {
	reminders, err := c.store.ListSchedulable(ctx)
	if err != nil {
		c.logger.Error("tick_list_failed", zap.Error(err))
		return
	}

	// Deterministic processing order: scheduledFor ascending, then id.
	sort.Slice(reminders, func(i, j int) bool {
		if !reminders[i].ScheduledFor.Equal(reminders[j].ScheduledFor) {
			return reminders[i].ScheduledFor.Before(reminders[j].ScheduledFor)
		}
		return reminders[i].ID.String() < reminders[j].ID.String()
	})

	for _, r := range reminders {
		if err := c.processReminder(ctx, r.ID, now); err != nil {
			c.logger.Error("tick_reminder_failed",
				zap.String("reminder_id", r.ID.String()),
				zap.Error(err),
			)
		}
	}
}

// maxStaleRetries bounds how often a write is re-attempted after losing to
// a concurrent writer in another process.
const maxStaleRetries = 3

// processReminder advances one reminder's state machine under its lock, with
// a fresh read so concurrent user transitions are respected. Escalation
// bookkeeping is persisted before anything is dispatched: if the write loses
// to a concurrent transition (a completion from the server process, say),
// the whole evaluation reruns against the fresh row and nothing stale ever
// reaches the queue.
func (c *Core) processReminder(ctx context.Context, id uuid.UUID, now time.Time) error {
	c.locks.Lock(id)
	defer c.locks.Unlock(id)

	for attempt := 0; ; attempt++ {
		dispatches, err := c.advanceReminder(ctx, id, now)
		if errors.Is(err, models.ErrStaleReminder) && attempt < maxStaleRetries {
			continue
		}
		if err != nil {
			return err
		}

		for _, req := range dispatches {
			if err := c.dispatcher.Dispatch(ctx, req); err != nil {
				// The attempt still counts: delivery failure is surfaced as a
				// warning and must not stall the escalation schedule.
				c.logger.Warn("dispatch_failed",
					zap.String("reminder_id", req.ReminderID.String()),
					zap.Int("attempt", req.Attempt),
					zap.Error(err),
				)
			}
		}
		return nil
	}
}

// advanceReminder does one read-evaluate-persist pass and returns the
// dispatch requests that became due, already counted and persisted.
func (c *Core) advanceReminder(ctx context.Context, id uuid.UUID, now time.Time) ([]DispatchRequest, error) {
	r, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load reminder: %w", err)
	}
	if r.Status.IsTerminal() {
		return nil, nil
	}

	dirty := false

	if r.Status == models.ReminderStatusPending || r.Status == models.ReminderStatusSnoozed {
		if anchor, due := c.activationAnchor(r, now); due {
			activate(r, anchor)
			dirty = true
			c.logger.Info("reminder_activated",
				zap.String("reminder_id", r.ID.String()),
				zap.Time("anchor", anchor),
			)
		}
	}

	var dispatches []DispatchRequest
	if r.Status == models.ReminderStatusActive && r.ActivatedAt != nil {
		elapsed := now.Sub(*r.ActivatedAt)
		steps := c.policy.AttemptsDue(r.ParanoiaLevel, elapsed, r.EscalationCount)
		for _, step := range steps {
			attempt := r.EscalationCount + 1
			dispatches = append(dispatches, DispatchRequest{
				ReminderID: r.ID,
				UserID:     r.UserID,
				ChatID:     r.ChatID,
				Attempt:    attempt,
				Channels:   step.Channels,
				Text:       r.Text,
				RequireAck: step.RequireAck,
				Tag:        fmt.Sprintf("reminder-%s-%d", r.ID, attempt),
			})
			recordEscalation(r, now)
			dirty = true
		}
	}

	if dirty {
		r.UpdatedAt = now
		if err := c.store.Update(ctx, r); err != nil {
			if errors.Is(err, models.ErrStaleReminder) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to persist reminder: %w", err)
		}
	}
	return dispatches, nil
}

// activationAnchor reports whether the reminder's activation condition is
// satisfied at now, and if so, the moment it was satisfied.
func (c *Core) activationAnchor(r *models.Reminder, now time.Time) (time.Time, bool) {
	timeDue := !now.Before(r.ScheduledFor)

	if r.Geozone == nil {
		return r.ScheduledFor, timeDue
	}

	geoDue := r.GeoTriggeredAt != nil
	switch c.gate {
	case GateOr:
		switch {
		case timeDue && geoDue:
			if r.GeoTriggeredAt.Before(r.ScheduledFor) {
				return *r.GeoTriggeredAt, true
			}
			return r.ScheduledFor, true
		case timeDue:
			return r.ScheduledFor, true
		case geoDue:
			return *r.GeoTriggeredAt, true
		default:
			return time.Time{}, false
		}
	default: // GateAnd
		if !timeDue || !geoDue {
			return time.Time{}, false
		}
		if r.GeoTriggeredAt.After(r.ScheduledFor) {
			return *r.GeoTriggeredAt, true
		}
		return r.ScheduledFor, true
	}
}

// Complete acknowledges a reminder. Recurring reminders re-arm for their
// next occurrence; non-recurring ones become terminal.
func (c *Core) Complete(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	return c.transition(ctx, id, func(r *models.Reminder, now time.Time) {
		complete(r, now)
	})
}

// Cancel terminates a reminder. Terminal; no further dispatches occur.
func (c *Core) Cancel(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	return c.transition(ctx, id, func(r *models.Reminder, now time.Time) {
		cancel(r)
	})
}

// Snooze defers a reminder by delay and resets its escalation cycle.
func (c *Core) Snooze(ctx context.Context, id uuid.UUID, delay time.Duration) (*models.Reminder, error) {
	if delay <= 0 {
		return nil, models.NewValidationError("delay", "must be positive")
	}
	return c.transition(ctx, id, func(r *models.Reminder, now time.Time) {
		snooze(r, now, delay)
	})
}

// transition applies a user-driven state change under the reminder's lock.
// A stale write means the scheduler process (or another server instance)
// changed the row since the read; the transition is re-evaluated against
// the fresh state so a completion never overwrites a newer cancellation.
func (c *Core) transition(ctx context.Context, id uuid.UUID, apply func(*models.Reminder, time.Time)) (*models.Reminder, error) {
	c.locks.Lock(id)
	defer c.locks.Unlock(id)

	for attempt := 0; ; attempt++ {
		r, err := c.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.Status.IsTerminal() {
			return nil, models.ErrInvalidTransition
		}

		now := time.Now().UTC()
		apply(r, now)
		r.UpdatedAt = now

		if err := c.store.Update(ctx, r); err != nil {
			if errors.Is(err, models.ErrStaleReminder) && attempt < maxStaleRetries {
				continue
			}
			return nil, fmt.Errorf("failed to persist transition: %w", err)
		}

		c.logger.Info("reminder_transition",
			zap.String("reminder_id", r.ID.String()),
			zap.String("status", string(r.Status)),
		)
		return r, nil
	}
}

// OnGeozoneEvent records a matching geozone signal on every reminder of the
// event's user that references the zone, activating those whose gate is now
// satisfied. Returns the ids of affected reminders.
func (c *Core) OnGeozoneEvent(ctx context.Context, ev models.GeozoneEvent) ([]uuid.UUID, error) {
	reminders, err := c.store.ListSchedulable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}

	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	var affected []uuid.UUID
	for _, candidate := range reminders {
		if !ev.Matches(candidate) {
			continue
		}
		if err := c.recordGeoTrigger(ctx, candidate.ID, ev, occurred); err != nil {
			c.logger.Error("geozone_trigger_failed",
				zap.String("reminder_id", candidate.ID.String()),
				zap.Error(err),
			)
			continue
		}
		affected = append(affected, candidate.ID)
	}
	return affected, nil
}

func (c *Core) recordGeoTrigger(ctx context.Context, id uuid.UUID, ev models.GeozoneEvent, occurred time.Time) error {
	c.locks.Lock(id)
	defer c.locks.Unlock(id)

	for attempt := 0; ; attempt++ {
		r, err := c.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if r.Status.IsTerminal() || !ev.Matches(r) {
			return nil
		}

		r.GeoTriggeredAt = &occurred
		if r.Status == models.ReminderStatusPending || r.Status == models.ReminderStatusSnoozed {
			if anchor, due := c.activationAnchor(r, occurred); due {
				activate(r, anchor)
				c.logger.Info("reminder_activated_by_geozone",
					zap.String("reminder_id", r.ID.String()),
					zap.String("zone", ev.Zone),
				)
			}
		}
		r.UpdatedAt = occurred

		if err := c.store.Update(ctx, r); err != nil {
			if errors.Is(err, models.ErrStaleReminder) && attempt < maxStaleRetries {
				continue
			}
			return fmt.Errorf("failed to persist geozone trigger: %w", err)
		}
		return nil
	}
}

// Get returns a reminder by id.
func (c *Core) Get(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	return c.store.Get(ctx, id)
}

// ListByUser returns all reminders owned by userID.
func (c *Core) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Reminder, error) {
	return c.store.ListByUser(ctx, userID)
}

func validateRecurrence(rule *models.RecurrenceRule) error {
	if rule == nil {
		return nil
	}
	switch rule.Type {
	case models.RecurrenceDaily, models.RecurrenceWeekly, models.RecurrenceMonthly:
	default:
		return models.NewValidationError("recurrence.type",
			fmt.Sprintf("unknown type %q", rule.Type))
	}
	if rule.Interval < 1 {
		return models.NewValidationError("recurrence.interval", "must be at least 1")
	}
	for _, d := range rule.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return models.NewValidationError("recurrence.days_of_week",
				fmt.Sprintf("invalid weekday %d", d))
		}
	}
	if len(rule.DaysOfWeek) > 0 && rule.Type != models.RecurrenceWeekly {
		return models.NewValidationError("recurrence.days_of_week",
			"only valid for weekly recurrence")
	}
	return nil
}

func validateGeozone(zone *models.Geozone) error {
	if zone == nil {
		return nil
	}
	if strings.TrimSpace(zone.Name) == "" {
		return models.NewValidationError("geozone.name", "must not be empty")
	}
	if zone.RadiusM <= 0 {
		return models.NewValidationError("geozone.radius_m", "must be positive")
	}
	if zone.Trigger != models.GeozoneTriggerEnter && zone.Trigger != models.GeozoneTriggerExit {
		return models.NewValidationError("geozone.trigger", "must be 'enter' or 'exit'")
	}
	if zone.Latitude < -90 || zone.Latitude > 90 {
		return models.NewValidationError("geozone.latitude", "must be between -90 and 90")
	}
	if zone.Longitude < -180 || zone.Longitude > 180 {
		return models.NewValidationError("geozone.longitude", "must be between -180 and 180")
	}
	return nil
}
