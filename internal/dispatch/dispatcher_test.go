package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/paranoiabot/reminderd/internal/gateway"
	"github.com/paranoiabot/reminderd/internal/models"
	"github.com/paranoiabot/reminderd/internal/scheduler"
)

type stubReader struct {
	reminder *models.Reminder
	err      error
}

func (r *stubReader) Get(_ context.Context, _ uuid.UUID) (*models.Reminder, error) {
	return r.reminder, r.err
}

type stubSender struct {
	mu    sync.Mutex
	calls int
	// failures is how many leading calls return an error.
	failures int
	sent     []gateway.SendOptions
}

func (s *stubSender) Send(_ context.Context, opts gateway.SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("channel unavailable")
	}
	s.sent = append(s.sent, opts)
	return nil
}

type memRecorder struct {
	mu       sync.Mutex
	attempts []*models.DeliveryAttempt
}

func (r *memRecorder) Record(_ context.Context, attempt *models.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *memRecorder) byStatus(status models.DeliveryStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.attempts {
		if a.Status == status {
			n++
		}
	}
	return n
}

func activeReminder() *models.Reminder {
	return &models.Reminder{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Status: models.ReminderStatusActive,
	}
}

func testRequest(r *models.Reminder, channels ...models.Channel) scheduler.DispatchRequest {
	return scheduler.DispatchRequest{
		ReminderID: r.ID,
		UserID:     r.UserID,
		ChatID:     42,
		Attempt:    3,
		Channels:   channels,
		Text:       "take meds",
		RequireAck: true,
		Tag:        "reminder-" + r.ID.String() + "-3",
	}
}

func TestDeliver_SingleChannel(t *testing.T) {
	t.Parallel()

	r := activeReminder()
	chat := &stubSender{}
	rec := &memRecorder{}
	d := New(map[models.Channel]gateway.Sender{models.ChannelChat: chat}, &stubReader{reminder: r}, rec, nil)

	if err := d.Deliver(context.Background(), testRequest(r, models.ChannelChat)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(chat.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(chat.sent))
	}
	got := chat.sent[0]
	if got.ChatID != 42 || got.Text != "take meds" || !got.RequireAck {
		t.Errorf("unexpected send options %+v", got)
	}
	if rec.byStatus(models.DeliverySent) != 1 {
		t.Errorf("expected 1 sent attempt recorded, got %d", rec.byStatus(models.DeliverySent))
	}
}

func TestDeliver_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	r := activeReminder()
	chat := &stubSender{failures: 2} // fails twice, succeeds on the third try
	rec := &memRecorder{}
	d := New(map[models.Channel]gateway.Sender{models.ChannelChat: chat}, &stubReader{reminder: r}, rec, nil)

	if err := d.Deliver(context.Background(), testRequest(r, models.ChannelChat)); err != nil {
		t.Fatalf("Deliver should survive transient failures: %v", err)
	}
	if chat.calls != 3 {
		t.Errorf("expected 3 send calls, got %d", chat.calls)
	}
	if rec.byStatus(models.DeliverySent) != 1 {
		t.Errorf("expected a sent record after retry")
	}
}

func TestDeliver_AllChannelsFailed(t *testing.T) {
	t.Parallel()

	r := activeReminder()
	// More failures than retries on every channel.
	chat := &stubSender{failures: 100}
	sms := &stubSender{failures: 100}
	rec := &memRecorder{}
	d := New(map[models.Channel]gateway.Sender{
		models.ChannelChat: chat,
		models.ChannelSMS:  sms,
	}, &stubReader{reminder: r}, rec, nil)

	err := d.Deliver(context.Background(), testRequest(r, models.ChannelChat, models.ChannelSMS))
	if err == nil {
		t.Fatal("expected error when every channel fails")
	}
	if rec.byStatus(models.DeliveryFailed) != 2 {
		t.Errorf("expected 2 failed attempts recorded, got %d", rec.byStatus(models.DeliveryFailed))
	}
}

func TestDeliver_PartialSuccessIsSuccess(t *testing.T) {
	t.Parallel()

	r := activeReminder()
	chat := &stubSender{failures: 100}
	sms := &stubSender{}
	rec := &memRecorder{}
	d := New(map[models.Channel]gateway.Sender{
		models.ChannelChat: chat,
		models.ChannelSMS:  sms,
	}, &stubReader{reminder: r}, rec, nil)

	if err := d.Deliver(context.Background(), testRequest(r, models.ChannelChat, models.ChannelSMS)); err != nil {
		t.Fatalf("one delivered channel should succeed the attempt: %v", err)
	}
	if rec.byStatus(models.DeliverySent) != 1 || rec.byStatus(models.DeliveryFailed) != 1 {
		t.Errorf("expected 1 sent + 1 failed, got %d/%d",
			rec.byStatus(models.DeliverySent), rec.byStatus(models.DeliveryFailed))
	}
}

func TestDeliver_SkipsTerminalReminder(t *testing.T) {
	t.Parallel()

	r := activeReminder()
	r.Status = models.ReminderStatusCompleted
	chat := &stubSender{}
	rec := &memRecorder{}
	d := New(map[models.Channel]gateway.Sender{models.ChannelChat: chat}, &stubReader{reminder: r}, rec, nil)

	if err := d.Deliver(context.Background(), testRequest(r, models.ChannelChat)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if chat.calls != 0 {
		t.Errorf("terminal reminder reached the channel: %d calls", chat.calls)
	}
	if rec.byStatus(models.DeliverySkipped) != 1 {
		t.Errorf("expected a skipped record, got %d", rec.byStatus(models.DeliverySkipped))
	}
}

func TestDeliver_MissingReminderIsDropped(t *testing.T) {
	t.Parallel()

	chat := &stubSender{}
	d := New(map[models.Channel]gateway.Sender{models.ChannelChat: chat},
		&stubReader{err: models.ErrNotFound}, &memRecorder{}, nil)

	req := testRequest(activeReminder(), models.ChannelChat)
	if err := d.Deliver(context.Background(), req); err != nil {
		t.Fatalf("missing reminder should not error the job: %v", err)
	}
	if chat.calls != 0 {
		t.Error("missing reminder reached the channel")
	}
}

func TestDeliver_UnconfiguredChannel(t *testing.T) {
	t.Parallel()

	r := activeReminder()
	rec := &memRecorder{}
	d := New(map[models.Channel]gateway.Sender{}, &stubReader{reminder: r}, rec, nil)

	err := d.Deliver(context.Background(), testRequest(r, models.ChannelVoice))
	if err == nil {
		t.Fatal("expected error when the only channel has no sender")
	}
	if rec.byStatus(models.DeliveryFailed) != 1 {
		t.Errorf("expected a failed record for the unconfigured channel")
	}
}
