package queue

import (
	"context"
	"fmt"

	"github.com/paranoiabot/reminderd/internal/scheduler"
)

// Enqueuer adapts a JobQueue to the scheduler's dispatcher contract: the tick
// loop hands off an attempt and moves on, and the dispatch worker does the
// channel I/O on the consuming side.
type Enqueuer struct {
	queue JobQueue
}

// NewEnqueuer creates a queue-backed dispatcher.
func NewEnqueuer(queue JobQueue) *Enqueuer {
	return &Enqueuer{queue: queue}
}

// Dispatch publishes the escalation attempt as a delivery job.
func (e *Enqueuer) Dispatch(ctx context.Context, req scheduler.DispatchRequest) error {
	if err := e.queue.Enqueue(ctx, NewDispatchJob(req)); err != nil {
		return fmt.Errorf("failed to enqueue dispatch job: %w", err)
	}
	return nil
}
