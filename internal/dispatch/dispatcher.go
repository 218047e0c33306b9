// Package dispatch delivers escalation attempts to their channels. It runs in
// the dispatch worker, on the consuming side of the job queue, so channel
// latency and retries never block the scheduler tick.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/paranoiabot/reminderd/internal/gateway"
	logpkg "github.com/paranoiabot/reminderd/internal/logger"
	"github.com/paranoiabot/reminderd/internal/models"
	"github.com/paranoiabot/reminderd/internal/scheduler"
	"go.uber.org/zap"
)

// ReminderReader provides the fresh status read done before delivery, so a
// reminder completed or cancelled while its job sat in the queue is never
// delivered.
type ReminderReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Reminder, error)
}

// AttemptRecorder persists per-channel delivery outcomes.
type AttemptRecorder interface {
	Record(ctx context.Context, attempt *models.DeliveryAttempt) error
}

// DefaultMaxSendRetries is how many times a failed channel send is retried
// before the attempt is recorded as failed.
const DefaultMaxSendRetries = 2

// Dispatcher fans one escalation attempt out to its channels.
type Dispatcher struct {
	senders    map[models.Channel]gateway.Sender
	reader     ReminderReader
	recorder   AttemptRecorder
	logger     *zap.Logger
	maxRetries uint64
}

// New creates a dispatcher. senders maps each deliverable channel to its
// gateway; channels without a sender fail their part of the attempt.
func New(senders map[models.Channel]gateway.Sender, reader ReminderReader, recorder AttemptRecorder, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		senders:    senders,
		reader:     reader,
		recorder:   recorder,
		logger:     logger,
		maxRetries: DefaultMaxSendRetries,
	}
}

// Deliver sends req over each of its channels. The attempt succeeds when at
// least one channel accepts it; an error is returned only when every channel
// failed, so the worker can requeue or dead-letter the job.
func (d *Dispatcher) Deliver(ctx context.Context, req scheduler.DispatchRequest) error {
	fresh, err := d.reader.Get(ctx, req.ReminderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			d.logger.Info("dispatch_skipped_missing",
				zap.String("reminder_id", req.ReminderID.String()),
			)
			return nil
		}
		return fmt.Errorf("failed to load reminder: %w", err)
	}
	if fresh.Status.IsTerminal() {
		for _, channel := range req.Channels {
			d.record(ctx, req, channel, models.DeliverySkipped,
				fmt.Sprintf("reminder %s before delivery", fresh.Status))
		}
		d.logger.Info("dispatch_skipped_terminal",
			zap.String("reminder_id", req.ReminderID.String()),
			zap.String("status", string(fresh.Status)),
		)
		return nil
	}

	opts := gateway.SendOptions{
		ChatID:     req.ChatID,
		Text:       req.Text,
		RequireAck: req.RequireAck,
		Tag:        req.Tag,
	}

	sent := 0
	for _, channel := range req.Channels {
		sender, ok := d.senders[channel]
		if !ok {
			d.record(ctx, req, channel, models.DeliveryFailed, "no sender configured")
			d.logger.Warn("dispatch_channel_unconfigured",
				zap.String("reminder_id", req.ReminderID.String()),
				zap.String("channel", string(channel)),
			)
			continue
		}

		if err := d.sendWithRetry(ctx, sender, opts); err != nil {
			d.record(ctx, req, channel, models.DeliveryFailed, logpkg.SanitizeError(err))
			d.logger.Warn("dispatch_channel_failed",
				zap.String("reminder_id", req.ReminderID.String()),
				zap.String("channel", string(channel)),
				zap.Int("attempt", req.Attempt),
				zap.Error(err),
			)
			continue
		}

		sent++
		d.record(ctx, req, channel, models.DeliverySent, "")
		d.logger.Info("dispatch_channel_sent",
			zap.String("reminder_id", req.ReminderID.String()),
			zap.String("channel", string(channel)),
			zap.Int("attempt", req.Attempt),
		)
	}

	if sent == 0 && len(req.Channels) > 0 {
		return fmt.Errorf("all channels failed for reminder %s attempt %d", req.ReminderID, req.Attempt)
	}
	return nil
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, sender gateway.Sender, opts gateway.SendOptions) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		return sender.Send(ctx, opts)
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, d.maxRetries), ctx))
}

func (d *Dispatcher) record(ctx context.Context, req scheduler.DispatchRequest, channel models.Channel, status models.DeliveryStatus, detail string) {
	if d.recorder == nil {
		return
	}
	attempt := &models.DeliveryAttempt{
		ID:         uuid.New(),
		ReminderID: req.ReminderID,
		Attempt:    req.Attempt,
		Channel:    channel,
		Status:     status,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.recorder.Record(ctx, attempt); err != nil {
		// History is best-effort: a recording failure must not fail delivery.
		d.logger.Error("delivery_attempt_record_failed",
			zap.String("reminder_id", req.ReminderID.String()),
			zap.Error(err),
		)
	}
}
