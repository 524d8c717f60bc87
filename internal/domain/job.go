package domain

import (
	"fmt"
	"time"
)

// JobQueue identifies which worker queue a job belongs to
type JobQueue string

const (
	QueueIngest   JobQueue = "ingest"
	QueueKeywords JobQueue = "keywords"
)

// JobStatus represents the status of a pipeline job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job represents an async unit of pipeline work referencing one item
type Job struct {
	ID          string
	ItemID      string
	Queue       JobQueue
	Status      JobStatus
	Retries     int32
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// NewJob creates a new pending Job for the given item and queue.
func NewJob(id, itemID string, queue JobQueue, createdAt time.Time) *Job {
	return &Job{
		ID:        id,
		ItemID:    itemID,
		Queue:     queue,
		Status:    JobStatusPending,
		CreatedAt: createdAt,
	}
}

// ValidateJob validates a Job instance
func ValidateJob(j *Job) error {
	if j == nil {
		return fmt.Errorf("job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if j.ItemID == "" {
		return fmt.Errorf("job ItemID is required")
	}

	if !isValidJobQueue(j.Queue) {
		return fmt.Errorf("job Queue is invalid: %s", j.Queue)
	}

	if !isValidJobStatus(j.Status) {
		return fmt.Errorf("job Status is invalid: %s", j.Status)
	}

	if j.Retries < 0 {
		return fmt.Errorf("job Retries cannot be negative")
	}

	return nil
}

// isValidJobQueue checks if a JobQueue is valid
func isValidJobQueue(q JobQueue) bool {
	switch q {
	case QueueIngest, QueueKeywords:
		return true
	}
	return false
}

// isValidJobStatus checks if a JobStatus is valid
func isValidJobStatus(s JobStatus) bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}
