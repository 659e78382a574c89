package jobqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrNotFailed   = errors.New("job is not in the failed list")
	// ErrPermanent marks a failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent job failure")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string        { return e.err.Error() }
func (e *permanentError) Unwrap() error        { return e.err }
func (e *permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent wraps err so the queue fails the job without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Job represents a queued unit of work
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Status       JobStatus       `json:"status"`
	Payload      json.RawMessage `json:"payload"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	StalledCount int             `json:"stalled_count"`
	Progress     int             `json:"progress"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	NextRunAt    *time.Time      `json:"next_run_at,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	ErrorHistory []string        `json:"error_history,omitempty"`
}

func newJob(id, queue, name string, payload interface{}, maxAttempts int, now time.Time) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Job{
		ID:          id,
		Queue:       queue,
		Name:        name,
		Status:      JobStatusWaiting,
		Payload:     data,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of job %s: %w", j.ID, err)
	}
	return nil
}

// AttemptNumber is the 1-based number of the attempt currently running.
func (j *Job) AttemptNumber() int {
	return j.Attempts + 1
}

// CanRetry reports whether another attempt is allowed after a failure.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

func (j *Job) MarkAsActive(now time.Time) {
	j.Status = JobStatusActive
	j.UpdatedAt = now
	j.ProcessedAt = &now
	j.NextRunAt = nil
}

func (j *Job) MarkAsCompleted(now time.Time) {
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.FinishedAt = &now
	j.Progress = 100
	j.LastError = ""
}

// MarkAsFailed records a failed attempt.
func (j *Job) MarkAsFailed(now time.Time, errorMsg string) {
	j.Attempts++
	j.UpdatedAt = now
	j.LastError = errorMsg
	j.ErrorHistory = append(j.ErrorHistory, errorMsg)
}

func (j *Job) MarkAsDelayed(now, runAt time.Time) {
	j.Status = JobStatusDelayed
	j.UpdatedAt = now
	j.NextRunAt = &runAt
}

func (j *Job) MarkAsTerminal(now time.Time) {
	j.Status = JobStatusFailed
	j.UpdatedAt = now
	j.FinishedAt = &now
}

func (j *Job) MarkAsWaiting(now time.Time) {
	j.Status = JobStatusWaiting
	j.UpdatedAt = now
	j.NextRunAt = nil
}

// Stats is a snapshot of the queue lists plus lifetime counters.
type Stats struct {
	Queue     string           `json:"queue"`
	Waiting   int64            `json:"waiting"`
	Active    int64            `json:"active"`
	Delayed   int64            `json:"delayed"`
	Completed int64            `json:"completed"`
	Failed    int64            `json:"failed"`
	Totals    map[string]int64 `json:"totals"`
}
