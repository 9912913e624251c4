package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the status of a queued job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusFailed     JobStatus = "failed"
)

// Well-known queue names. Each queue carries its own concurrency cap;
// retention is deliberately serialized to bound the blast radius of
// destructive batch operations.
const (
	QueueClassification = "classification"
	QueueSanitization   = "sanitization"
	QueueRetention      = "retention"
)

// Job is a unit of orchestrated background work. Completed jobs are removed;
// jobs past their attempt ceiling stay in the failed state for inspection.
type Job struct {
	ID          string
	Queue       string
	Payload     json.RawMessage
	Status      JobStatus
	Attempts    int32
	MaxAttempts int32
	ScheduledAt time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateJob validates a Job instance
func ValidateJob(j *Job) error {
	if j == nil {
		return fmt.Errorf("job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if j.Queue == "" {
		return fmt.Errorf("job Queue is required")
	}

	if !isValidJobStatus(j.Status) {
		return fmt.Errorf("job Status is invalid: %s", j.Status)
	}

	if j.MaxAttempts <= 0 {
		return fmt.Errorf("job MaxAttempts must be greater than 0")
	}

	return nil
}

func isValidJobStatus(s JobStatus) bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusFailed:
		return true
	}
	return false
}
