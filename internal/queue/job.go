package queue

import (
	"time"

	"github.com/google/uuid"
	"github.com/paranoiabot/reminderd/internal/scheduler"
)

// JobType represents the type of job
type JobType string

const (
	// JobTypeDispatch is a job for delivering one escalation attempt
	JobTypeDispatch JobType = "dispatch_attempt"
)

// Job represents a job in the queue
type Job struct {
	ID         uuid.UUID                 `json:"id"`
	Type       JobType                   `json:"type"`
	Request    scheduler.DispatchRequest `json:"request"`
	NotBefore  *time.Time                `json:"not_before,omitempty"` // Earliest time to process job (nil = immediate)
	NotAfter   *time.Time                `json:"not_after,omitempty"`  // Latest time to process job (nil = no expiration)
	CreatedAt  time.Time                 `json:"created_at"`
	RetryCount int                       `json:"retry_count"`
	MaxRetries int                       `json:"max_retries"`
}

// DefaultJobTTL bounds how long a delivery job stays deliverable. A nag
// delivered long after its escalation window is stale; the next attempt has
// already superseded it.
const DefaultJobTTL = 10 * time.Minute

// NewDispatchJob creates a delivery job for one escalation attempt.
func NewDispatchJob(req scheduler.DispatchRequest) *Job {
	notAfter := time.Now().Add(DefaultJobTTL)
	return &Job{
		ID:         uuid.New(),
		Type:       JobTypeDispatch,
		Request:    req,
		NotAfter:   &notAfter,
		CreatedAt:  time.Now(),
		RetryCount: 0,
		MaxRetries: 3,
	}
}

// ShouldProcess checks if the job should be processed now
func (j *Job) ShouldProcess() bool {
	now := time.Now()

	// Check NotBefore
	if j.NotBefore != nil && now.Before(*j.NotBefore) {
		return false
	}

	// Check NotAfter
	if j.NotAfter != nil && now.After(*j.NotAfter) {
		return false
	}

	return true
}

// IsExpired checks if the job has expired
func (j *Job) IsExpired() bool {
	if j.NotAfter == nil {
		return false
	}

	return time.Now().After(*j.NotAfter)
}

// CanRetry checks if the job can be retried
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IncrementRetry increments the retry count
func (j *Job) IncrementRetry() {
	j.RetryCount++
}
