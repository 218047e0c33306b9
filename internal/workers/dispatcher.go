package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/paranoiabot/reminderd/internal/queue"
	"github.com/paranoiabot/reminderd/internal/scheduler"
)

// Deliverer performs the channel delivery for one escalation attempt.
type Deliverer interface {
	Deliver(ctx context.Context, req scheduler.DispatchRequest) error
}

// DispatchWorker processes delivery jobs from the queue
type DispatchWorker struct {
	deliverer Deliverer
	jobQueue  queue.JobQueue // For re-enqueueing jobs with delays
}

// NewDispatchWorker creates a new dispatch worker
func NewDispatchWorker(deliverer Deliverer, jobQueue queue.JobQueue) *DispatchWorker {
	return &DispatchWorker{
		deliverer: deliverer,
		jobQueue:  jobQueue,
	}
}

// ProcessJob processes a job based on its type
func (w *DispatchWorker) ProcessJob(ctx context.Context, msg queue.MessageInterface) error {
	job := msg.GetJob()

	// Expired attempts are dropped: a nag delivered long after its window
	// has been superseded by the next escalation attempt.
	if job.IsExpired() {
		log.Printf("Job %s expired (NotAfter: %v), dropping", job.ID, job.NotAfter)
		if ackErr := msg.Ack(); ackErr != nil {
			log.Printf("Failed to ack expired job: %v", ackErr)
		}
		return nil
	}

	switch job.Type {
	case queue.JobTypeDispatch:
		if err := w.deliverer.Deliver(ctx, job.Request); err != nil {
			return w.handleJobError(ctx, msg, job, err)
		}
		if ackErr := msg.Ack(); ackErr != nil {
			return fmt.Errorf("failed to ack job: %w", ackErr)
		}
		return nil

	default:
		if nackErr := msg.Nack(false); nackErr != nil { // Unknown job type, send to DLQ
			log.Printf("Failed to nack unknown job type: %v", nackErr)
		}
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// handleJobError retries failed deliveries with a growing delay, then sends
// the job to the DLQ once retries are exhausted.
func (w *DispatchWorker) handleJobError(ctx context.Context, msg queue.MessageInterface, job *queue.Job, err error) error {
	if job.CanRetry() && w.jobQueue != nil {
		retryDelay := retryDelay(job.RetryCount)
		notBefore := time.Now().Add(retryDelay)

		delayedJob := &queue.Job{
			ID:         job.ID,
			Type:       job.Type,
			Request:    job.Request,
			NotBefore:  &notBefore,
			NotAfter:   job.NotAfter,
			CreatedAt:  job.CreatedAt,
			RetryCount: job.RetryCount + 1,
			MaxRetries: job.MaxRetries,
		}

		// Ack the current message before re-enqueueing the delayed copy
		if ackErr := msg.Ack(); ackErr != nil {
			log.Printf("Failed to ack job before re-enqueue: %v", ackErr)
		}

		if enqueueErr := w.jobQueue.Enqueue(ctx, delayedJob); enqueueErr != nil {
			log.Printf("Failed to re-enqueue job %s with delay: %v", job.ID, enqueueErr)
			return fmt.Errorf("delivery failed, re-enqueue failed: %w", enqueueErr)
		}

		log.Printf("Delivery of job %s failed (attempt %d/%d): %v, retrying at %v",
			job.ID, job.RetryCount+1, job.MaxRetries, err, notBefore)
		return nil // Successfully handled
	}

	if job.CanRetry() {
		// No queue access for delayed retry, fall back to immediate requeue
		job.IncrementRetry()
		log.Printf("Job %s failed (attempt %d/%d): %v, will retry", job.ID, job.RetryCount, job.MaxRetries, err)
		if nackErr := msg.Nack(true); nackErr != nil {
			log.Printf("Failed to nack job: %v", nackErr)
		}
		return fmt.Errorf("job failed (will retry): %w", err)
	}

	// Max retries exceeded, send to DLQ
	log.Printf("Job %s failed after %d retries: %v, sending to DLQ", job.ID, job.MaxRetries, err)
	if nackErr := msg.Nack(false); nackErr != nil {
		log.Printf("Failed to nack job to DLQ: %v", nackErr)
	}
	return fmt.Errorf("job failed (max retries): %w", err)
}

// retryDelay doubles per retry: 5s, 10s, 20s.
func retryDelay(retryCount int) time.Duration {
	delay := 5 * time.Second << uint(retryCount)
	if delay > 2*time.Minute {
		delay = 2 * time.Minute
	}
	return delay
}
