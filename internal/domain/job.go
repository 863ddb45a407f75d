package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrWorkerNotFound = errors.New("worker not found")
)

type WorkerStatus string

const (
	WorkerUp   WorkerStatus = "UP"
	WorkerDown WorkerStatus = "DOWN"
)

// Worker identifies one running schedworker process. Rows are never deleted:
// a worker that stops heartbeating is only ever marked DOWN (by the janitor,
// when enabled), so archived jobs keep a valid reference to whoever ran them.
type Worker struct {
	ID          string
	Hostname    string
	Status      WorkerStatus
	StartedAt   time.Time
	HeartbeatAt time.Time
}

// Job is a concrete unit of running work. WorkerID is nil while the job is
// unclaimed; an unclaimed job may be resumed by any worker. Several
// intentions may be bound to the same job and share its outcome.
type Job struct {
	ID        string
	WorkerID  *string
	LogID     *string
	CreatedAt time.Time
}

// Claimed reports whether a worker currently owns the job.
func (j *Job) Claimed() bool { return j.WorkerID != nil }

// Log records where a job's output file lives, relative to the configured
// job-logs directory.
type Log struct {
	ID        string
	Location  string
	CreatedAt time.Time
}

// ArchJob is the frozen form of a job after archival. The live Job row is
// deleted; archived intentions reference this instead.
type ArchJob struct {
	ID          string
	CreatedAt   time.Time
	ArchivedAt  time.Time
	WorkerID    *string
	LogLocation *string
}
