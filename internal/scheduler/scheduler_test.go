package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paranoiabot/reminderd/internal/escalation"
	"github.com/paranoiabot/reminderd/internal/models"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu        sync.Mutex
	reminders map[uuid.UUID]*models.Reminder
}

func newMemStore() *memStore {
	return &memStore{reminders: make(map[uuid.UUID]*models.Reminder)}
}

func (s *memStore) Insert(_ context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *r
	s.reminders[r.ID] = &clone
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *memStore) Update(_ context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reminders[r.ID]
	if !ok {
		return models.ErrNotFound
	}
	if cur.Version != r.Version {
		return models.ErrStaleReminder
	}
	clone := *r
	clone.Version++
	s.reminders[r.ID] = &clone
	r.Version = clone.Version
	return nil
}

func (s *memStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reminder
	for _, r := range s.reminders {
		if r.UserID == userID {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memStore) ListSchedulable(_ context.Context) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reminder
	for _, r := range s.reminders {
		if !r.Status.IsTerminal() {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

// recordingDispatcher captures dispatch requests in order.
type recordingDispatcher struct {
	mu       sync.Mutex
	requests []DispatchRequest
	err      error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req DispatchRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return d.err
}

func (d *recordingDispatcher) all() []DispatchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DispatchRequest, len(d.requests))
	copy(out, d.requests)
	return out
}

func newTestCore(t *testing.T, gate GeozoneGate) (*Core, *memStore, *recordingDispatcher) {
	t.Helper()
	store := newMemStore()
	disp := &recordingDispatcher{}
	core := New(store, escalation.NewPolicy(), disp, gate, nil)
	return core, store, disp
}

func baseTime() time.Time {
	return time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC) // Monday noon
}

func createReminder(t *testing.T, core *Core, req CreateRequest) *models.Reminder {
	t.Helper()
	r, err := core.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return r
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, GateAnd)
	userID := uuid.New()
	due := baseTime()

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"empty text", CreateRequest{UserID: userID, Text: "  ", ParanoiaLevel: 2, ScheduledFor: due}},
		{"paranoia below range", CreateRequest{UserID: userID, Text: "x", ParanoiaLevel: -1, ScheduledFor: due}},
		{"paranoia above range", CreateRequest{UserID: userID, Text: "x", ParanoiaLevel: 6, ScheduledFor: due}},
		{"zero schedule", CreateRequest{UserID: userID, Text: "x", ParanoiaLevel: 2}},
		{
			"bad recurrence interval",
			CreateRequest{UserID: userID, Text: "x", ParanoiaLevel: 2, ScheduledFor: due,
				Recurrence: &models.RecurrenceRule{Type: models.RecurrenceDaily, Interval: 0}},
		},
		{
			"day set on daily rule",
			CreateRequest{UserID: userID, Text: "x", ParanoiaLevel: 2, ScheduledFor: due,
				Recurrence: &models.RecurrenceRule{Type: models.RecurrenceDaily, Interval: 1,
					DaysOfWeek: []time.Weekday{time.Monday}}},
		},
		{
			"bad geozone radius",
			CreateRequest{UserID: userID, Text: "x", ParanoiaLevel: 2, ScheduledFor: due,
				Geozone: &models.Geozone{Name: "home", RadiusM: 0, Trigger: models.GeozoneTriggerEnter}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := core.Create(context.Background(), tt.req)
			if !models.IsValidation(err) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestTick_ActivatesAndDispatchesFirstAttempt(t *testing.T) {
	t.Parallel()

	core, store, disp := newTestCore(t, GateAnd)
	due := baseTime()
	r := createReminder(t, core, CreateRequest{
		UserID: uuid.New(), ChatID: 42, Text: "take meds", ParanoiaLevel: 2, ScheduledFor: due,
	})

	// Before due: nothing happens.
	core.Tick(context.Background(), due.Add(-time.Second))
	if got := len(disp.all()); got != 0 {
		t.Fatalf("expected no dispatch before due, got %d", got)
	}

	core.Tick(context.Background(), due)
	reqs := disp.all()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 dispatch at due time, got %d", len(reqs))
	}
	if reqs[0].Attempt != 1 || reqs[0].ChatID != 42 || reqs[0].Text != "take meds" {
		t.Errorf("unexpected request %+v", reqs[0])
	}

	got, err := store.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ReminderStatusActive {
		t.Errorf("status = %s, want active", got.Status)
	}
	if got.EscalationCount != 1 {
		t.Errorf("escalationCount = %d, want 1", got.EscalationCount)
	}
	if got.LastEscalationAt == nil {
		t.Error("lastEscalationAt not set")
	}
}

func TestTick_LevelFiveFullCadence(t *testing.T) {
	t.Parallel()

	core, store, disp := newTestCore(t, GateAnd)
	due := baseTime()
	r := createReminder(t, core, CreateRequest{
		UserID: uuid.New(), Text: "critical", ParanoiaLevel: 5, ScheduledFor: due,
	})

	offsets := []time.Duration{0, 30 * time.Second, 60 * time.Second,
		90 * time.Second, 120 * time.Second, 180 * time.Second}

	for i, off := range offsets {
		core.Tick(context.Background(), due.Add(off))
		if got := len(disp.all()); got != i+1 {
			t.Fatalf("after tick at +%v: %d dispatches, want %d", off, got, i+1)
		}
	}

	// Attempts arrived strictly in order, each exactly once.
	for i, req := range disp.all() {
		if req.Attempt != i+1 {
			t.Errorf("dispatch %d has attempt %d", i, req.Attempt)
		}
	}

	// Plan exhausted: further ticks are silent.
	core.Tick(context.Background(), due.Add(time.Hour))
	if got := len(disp.all()); got != 6 {
		t.Errorf("exhausted plan dispatched again: %d", got)
	}

	got, _ := store.Get(context.Background(), r.ID)
	if got.EscalationCount != 6 {
		t.Errorf("escalationCount = %d, want 6", got.EscalationCount)
	}
}

func TestTick_CatchesUpAfterBacklog(t *testing.T) {
	t.Parallel()

	core, _, disp := newTestCore(t, GateAnd)
	due := baseTime()
	createReminder(t, core, CreateRequest{
		UserID: uuid.New(), Text: "missed", ParanoiaLevel: 5, ScheduledFor: due,
	})

	// A single late tick must emit every attempt whose window has elapsed,
	// in order, not just the boundary one.
	core.Tick(context.Background(), due.Add(95*time.Second))
	reqs := disp.all()
	if len(reqs) != 4 {
		t.Fatalf("expected catch-up of 4 attempts (0,30,60,90s), got %d", len(reqs))
	}
	for i, req := range reqs {
		if req.Attempt != i+1 {
			t.Errorf("catch-up out of order: dispatch %d is attempt %d", i, req.Attempt)
		}
	}
}

func TestComplete_NonRecurringIsTerminal(t *testing.T) {
	t.Parallel()

	core, store, disp := newTestCore(t, GateAnd)
	due := baseTime()
	r := createReminder(t, core, CreateRequest{
		UserID: uuid.New(), Text: "one shot", ParanoiaLevel: 3, ScheduledFor: due,
	})

	core.Tick(context.Background(), due)

	updated, err := core.Complete(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if updated.Status != models.ReminderStatusCompleted {
		t.Errorf("status = %s, want completed", updated.Status)
	}
	if updated.CompletedAt == nil {
		t.Error("completedAt not set")
	}

	// Further ticks must not mutate or dispatch.
	before := len(disp.all())
	core.Tick(context.Background(), due.Add(time.Hour))
	if got := len(disp.all()); got != before {
		t.Errorf("completed reminder dispatched again")
	}
	final, _ := store.Get(context.Background(), r.ID)
	if final.Status != models.ReminderStatusCompleted {
		t.Errorf("status mutated after completion: %s", final.Status)
	}

	// Transitions from terminal state are rejected.
	if _, err := core.Complete(context.Background(), r.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := core.Snooze(context.Background(), r.ID, time.Minute); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestComplete_SuppressesRemainingAttempts(t *testing.T) {
	t.Parallel()

	core, _, disp := newTestCore(t, GateAnd)
	due := baseTime()
	r := createReminder(t, core, CreateRequest{
		UserID: uuid.New(), Text: "critical", ParanoiaLevel: 5, ScheduledFor: due,
	})

	core.Tick(context.Background(), due)
	core.Tick(context.Background(), due.Add(30*time.Second))
	if got := len(disp.all()); got != 2 {
		t.Fatalf("expected 2 attempts before completion, got %d", got)
	}

	if _, err := core.Complete(context.Background(), r.ID); err != nil {
		t.Fatal(err)
	}

	core.Tick(context.Background(), due.Add(time.Hour))
	if got := len(disp.all()); got != 2 {
		t.Errorf("attempts after completion: got %d dispatches total", got)
	}
}

func TestComplete_RecurringRearmsInPlace(t *testing.T) {
	t.Parallel()

	core, store, _ := newTestCore(t, GateAnd)
	due := baseTime() // Monday
	r := createReminder(t, core, CreateRequest{
		UserID: uuid.New(), Text: "standup", ParanoiaLevel: 2, ScheduledFor: due,
		Recurrence: &models.RecurrenceRule{
			Type: models.RecurrenceWeekly, Interval: 1,
			DaysOfWeek: []time.Weekday{time.Monday},
		},
	})

	core.Tick(context.Background(), due)

	completedAt := time.Now()
	updated, err := core.Complete(context.Background(), r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.ReminderStatusPending {
		t.Fatalf("status = %s, want pending after re-arm", updated.Status)
	}
	if updated.EscalationCount != 0 {
		t.Errorf("escalationCount = %d, want 0 after re-arm", updated.EscalationCount)
	}
	if updated.ActivatedAt != nil || updated.LastEscalationAt != nil {
		t.Error("escalation cycle not reset on re-arm")
	}
	// scheduledFor advanced to the next Monday after completion, keeping the
	// original clock time. Never a past occurrence.
	if !updated.ScheduledFor.After(completedAt) {
		t.Errorf("scheduledFor = %v, not after completion", updated.ScheduledFor)
	}
	if updated.ScheduledFor.Weekday() != time.Monday {
		t.Errorf("scheduledFor weekday = %s, want Monday", updated.ScheduledFor.Weekday())
	}
	if h, m, _ := updated.ScheduledFor.Clock(); h != 12 || m != 0 {
		t.Errorf("scheduledFor clock = %02d:%02d, want 12:00", h, m)
	}

	// Same id, exactly one reminder in the store.
	all, _ := store.ListSchedulable(context.Background())
	if len(all) != 1 || all[0].ID != r.ID {
		t.Errorf("re-arm must reset the same instance, got %d reminders", len(all))
	}
}

func TestComplete_RecurringPastEndDateFinalizes(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, GateAnd)
	due := baseTime()
	end := due.Add(24 * time.Hour)
	r := createReminder(t, core, CreateRequest{
		UserID: uuid.New(), Text: "short series", ParanoiaLevel: 1, ScheduledFor: due,
		Recurrence: &models.RecurrenceRule{
			Type: models.RecurrenceWeekly, Interval: 1,
			DaysOfWeek: []time.Weekday{time.Monday}, EndDate: &end,
		},
	})

	core.Tick(context.Background(), due)
	updated, err := core.Complete(context.Background(), r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.ReminderStatusCompleted {
		t.Errorf("rule past end date must finalize; status = %s", updated.Status)
	}
}

func TestSnooze_ResetsCycle(t *testing.T) {
	t.Parallel()

	core, _, disp := newTestCore(t, GateAnd)
	due := baseTime()
	r := createReminder(t, core, CreateRequest{
		UserID: uuid.New(), Text: "later", ParanoiaLevel: 4, ScheduledFor: due,
	})

	core.Tick(context.Background(), due)
	core.Tick(context.Background(), due.Add(30*time.Second))
	if got := len(disp.all()); got != 2 {
		t.Fatalf("expected 2 attempts before snooze, got %d", got)
	}

	updated, err := core.Snooze(context.Background(), r.ID, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != models.ReminderStatusSnoozed {
		t.Errorf("status = %s, want snoozed", updated.Status)
	}
	if updated.EscalationCount != 0 {
		t.Errorf("escalationCount = %d, want 0 after snooze", updated.EscalationCount)
	}

	// Once the deferred time arrives the cycle starts over at attempt 1.
	newDue := updated.ScheduledFor
	core.Tick(context.Background(), newDue)
	reqs := disp.all()
	if len(reqs) != 3 {
		t.Fatalf("expected re-activation dispatch, got %d total", len(reqs))
	}
	if reqs[2].Attempt != 1 {
		t.Errorf("post-snooze attempt = %d, want 1", reqs[2].Attempt)
	}
}

func TestCancel_NeverDispatchesAgain(t *testing.T) {
	t.Parallel()

	core, _, disp := newTestCore(t, GateAnd)
	due := baseTime()
	r := createReminder(t, core, CreateRequest{
		UserID: uuid.New(), Text: "nevermind", ParanoiaLevel: 5, ScheduledFor: due,
	})

	core.Tick(context.Background(), due)
	if _, err := core.Cancel(context.Background(), r.ID); err != nil {
		t.Fatal(err)
	}

	before := len(disp.all())
	core.Tick(context.Background(), due.Add(time.Hour))
	if got := len(disp.all()); got != before {
		t.Errorf("cancelled reminder produced %d more dispatches", got-before)
	}

	if _, err := core.Cancel(context.Background(), r.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on double cancel, got %v", err)
	}
}

func TestTransition_UnknownID(t *testing.T) {
	t.Parallel()

	core, _, _ := newTestCore(t, GateAnd)
	if _, err := core.Complete(context.Background(), uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTick_DeterministicOrdering(t *testing.T) {
	t.Parallel()

	core, _, disp := newTestCore(t, GateAnd)
	due := baseTime()
	userID := uuid.New()

	a := createReminder(t, core, CreateRequest{UserID: userID, Text: "a", ParanoiaLevel: 0, ScheduledFor: due})
	b := createReminder(t, core, CreateRequest{UserID: userID, Text: "b", ParanoiaLevel: 0, ScheduledFor: due})
	earlier := createReminder(t, core, CreateRequest{UserID: userID, Text: "c", ParanoiaLevel: 0, ScheduledFor: due.Add(-time.Minute)})

	core.Tick(context.Background(), due)
	reqs := disp.all()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 dispatches, got %d", len(reqs))
	}

	// Earlier scheduledFor first, then ascending id for the tie.
	if reqs[0].ReminderID != earlier.ID {
		t.Errorf("first dispatch should be the earlier reminder")
	}
	first, second := a.ID, b.ID
	if first.String() > second.String() {
		first, second = second, first
	}
	if reqs[1].ReminderID != first || reqs[2].ReminderID != second {
		t.Errorf("tied reminders not in ascending id order: %v, %v", reqs[1].ReminderID, reqs[2].ReminderID)
	}
}

func TestGeozone_GateAnd(t *testing.T) {
	t.Parallel()

	core, store, disp := newTestCore(t, GateAnd)
	due := baseTime()
	userID := uuid.New()
	r := createReminder(t, core, CreateRequest{
		UserID: userID, Text: "buy milk", ParanoiaLevel: 1, ScheduledFor: due,
		Geozone: &models.Geozone{Name: "store", Latitude: 1, Longitude: 1, RadiusM: 200, Trigger: models.GeozoneTriggerEnter},
	})

	// Time alone does not activate under AND.
	core.Tick(context.Background(), due.Add(time.Minute))
	if got := len(disp.all()); got != 0 {
		t.Fatalf("AND gate fired on time alone: %d dispatches", got)
	}

	// Geo event after the time satisfies the gate.
	affected, err := core.OnGeozoneEvent(context.Background(), models.GeozoneEvent{
		UserID: userID, Zone: "store", Trigger: models.GeozoneTriggerEnter,
		OccurredAt: due.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(affected) != 1 || affected[0] != r.ID {
		t.Fatalf("expected reminder affected by geozone event, got %v", affected)
	}

	got, _ := store.Get(context.Background(), r.ID)
	if got.Status != models.ReminderStatusActive {
		t.Errorf("status = %s, want active after both conditions", got.Status)
	}
	// Escalation anchors at the later of the two conditions.
	if got.ActivatedAt == nil || !got.ActivatedAt.Equal(due.Add(2*time.Minute)) {
		t.Errorf("activatedAt = %v, want geo trigger time", got.ActivatedAt)
	}

	core.Tick(context.Background(), due.Add(2*time.Minute))
	if got := len(disp.all()); got != 1 {
		t.Errorf("expected first attempt after activation, got %d", got)
	}
}

func TestGeozone_GateOr(t *testing.T) {
	t.Parallel()

	core, store, _ := newTestCore(t, GateOr)
	due := baseTime()
	userID := uuid.New()
	r := createReminder(t, core, CreateRequest{
		UserID: userID, Text: "buy milk", ParanoiaLevel: 1, ScheduledFor: due,
		Geozone: &models.Geozone{Name: "store", Latitude: 1, Longitude: 1, RadiusM: 200, Trigger: models.GeozoneTriggerEnter},
	})

	// Geo event before the scheduled time activates immediately under OR.
	early := due.Add(-time.Hour)
	if _, err := core.OnGeozoneEvent(context.Background(), models.GeozoneEvent{
		UserID: userID, Zone: "store", Trigger: models.GeozoneTriggerEnter, OccurredAt: early,
	}); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Get(context.Background(), r.ID)
	if got.Status != models.ReminderStatusActive {
		t.Errorf("status = %s, want active on geo alone under OR", got.Status)
	}
	if got.ActivatedAt == nil || !got.ActivatedAt.Equal(early) {
		t.Errorf("activatedAt = %v, want geo event time", got.ActivatedAt)
	}
}

func TestGeozone_EventIgnoresMismatches(t *testing.T) {
	t.Parallel()

	core, store, _ := newTestCore(t, GateOr)
	due := baseTime()
	userID := uuid.New()
	r := createReminder(t, core, CreateRequest{
		UserID: userID, Text: "buy milk", ParanoiaLevel: 1, ScheduledFor: due,
		Geozone: &models.Geozone{Name: "store", Latitude: 1, Longitude: 1, RadiusM: 200, Trigger: models.GeozoneTriggerEnter},
	})

	affected, err := core.OnGeozoneEvent(context.Background(), models.GeozoneEvent{
		UserID: userID, Zone: "store", Trigger: models.GeozoneTriggerExit, OccurredAt: due,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(affected) != 0 {
		t.Errorf("exit event should not affect an enter-triggered reminder")
	}

	got, _ := store.Get(context.Background(), r.ID)
	if got.Status != models.ReminderStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestDispatchFailure_DoesNotStallEscalation(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	disp := &recordingDispatcher{err: errors.New("broker down")}
	core := New(store, escalation.NewPolicy(), disp, GateAnd, nil)

	due := baseTime()
	r := createReminder(t, core, CreateRequest{
		UserID: uuid.New(), Text: "x", ParanoiaLevel: 2, ScheduledFor: due,
	})

	core.Tick(context.Background(), due)
	core.Tick(context.Background(), due.Add(30*time.Second))

	// Both attempts were made and counted despite delivery failures.
	got, _ := store.Get(context.Background(), r.ID)
	if got.EscalationCount != 2 {
		t.Errorf("escalationCount = %d, want 2 despite failures", got.EscalationCount)
	}
	if len(disp.all()) != 2 {
		t.Errorf("expected 2 dispatch calls, got %d", len(disp.all()))
	}
}

// interceptStore wraps a Store and runs a hook after the next Get, letting a
// test interleave a competing write between a Core's read and its update.
type interceptStore struct {
	Store
	mu       sync.Mutex
	afterGet func()
}

func (s *interceptStore) Get(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	r, err := s.Store.Get(ctx, id)
	s.mu.Lock()
	hook := s.afterGet
	s.afterGet = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return r, err
}

// The server and scheduler binaries each run their own Core over the same
// store, so the in-process lock cannot order their writes. A completion
// persisted between the tick's read and its write must win: the tick's
// stale write is rejected and re-evaluated, not applied over it.
func TestTick_CompleteFromOtherProcessNotLost(t *testing.T) {
	t.Parallel()

	shared := newMemStore()
	userCore := New(shared, escalation.NewPolicy(), &recordingDispatcher{}, GateAnd, nil)

	tickStore := &interceptStore{Store: shared}
	tickDisp := &recordingDispatcher{}
	tickCore := New(tickStore, escalation.NewPolicy(), tickDisp, GateAnd, nil)

	due := baseTime()
	r := createReminder(t, userCore, CreateRequest{
		UserID: uuid.New(), Text: "race", ParanoiaLevel: 5, ScheduledFor: due,
	})

	// After the tick reads the pending reminder, the user completes it
	// through the other Core before the tick can write.
	tickStore.afterGet = func() {
		if _, err := userCore.Complete(context.Background(), r.ID); err != nil {
			t.Errorf("Complete: %v", err)
		}
	}

	tickCore.Tick(context.Background(), due)

	got, _ := shared.Get(context.Background(), r.ID)
	if got.Status != models.ReminderStatusCompleted {
		t.Fatalf("status = %s, want completed (user completion was lost)", got.Status)
	}
	if got.EscalationCount != 0 {
		t.Errorf("escalationCount = %d, want 0 after completion won", got.EscalationCount)
	}
	if n := len(tickDisp.all()); n != 0 {
		t.Errorf("tick dispatched %d attempt(s) for a completed reminder", n)
	}

	// Later ticks must leave the terminal state alone.
	tickCore.Tick(context.Background(), due.Add(time.Minute))
	final, _ := shared.Get(context.Background(), r.ID)
	if final.Status != models.ReminderStatusCompleted {
		t.Errorf("terminal state regressed to %s", final.Status)
	}
}

func TestTick_ConcurrentCompleteIsSafe(t *testing.T) {
	t.Parallel()

	core, store, _ := newTestCore(t, GateAnd)
	due := baseTime()
	r := createReminder(t, core, CreateRequest{
		UserID: uuid.New(), Text: "race", ParanoiaLevel: 5, ScheduledFor: due,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		core.Tick(context.Background(), due)
	}()
	go func() {
		defer wg.Done()
		_, _ = core.Complete(context.Background(), r.ID)
	}()
	wg.Wait()

	got, _ := store.Get(context.Background(), r.ID)
	switch got.Status {
	case models.ReminderStatusCompleted:
		// Complete won; the terminal invariant must hold afterwards.
		core.Tick(context.Background(), due.Add(time.Minute))
		final, _ := store.Get(context.Background(), r.ID)
		if final.Status != models.ReminderStatusCompleted {
			t.Errorf("terminal state regressed to %s", final.Status)
		}
	case models.ReminderStatusActive:
		t.Error("Complete call was lost")
	default:
		t.Errorf("unexpected status %s", got.Status)
	}
}
