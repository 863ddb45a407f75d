package repository

import (
	"context"

	"github.com/cauldronio/poolsched/internal/domain"
)

type JobRepository interface {
	// CountClaimed counts jobs currently owned by any worker. Feeds the
	// hoarding guard: admission stops while claimed >= 5 * live workers.
	CountClaimed(ctx context.Context) (int, error)

	// EnsureLog attaches a log record to the job if it has none yet.
	EnsureLog(ctx context.Context, jobID, location string) (*domain.Log, error)

	// Release puts the job back on the queue. Guarded by worker so a
	// janitor-recovered job is not released twice.
	Release(ctx context.Context, jobID, workerID string) error

	// Archive freezes the job and every intention bound to it: insert an
	// arch_jobs row, copy intentions into archived_intentions with the
	// given status, then delete the intentions and the job. One tx.
	Archive(ctx context.Context, jobID string, status domain.ArchStatus) (*domain.ArchJob, error)
}
