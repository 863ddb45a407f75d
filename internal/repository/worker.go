package repository

import (
	"context"
	"time"

	"github.com/cauldronio/poolsched/internal/domain"
)

type WorkerRepository interface {
	Register(ctx context.Context, hostname string) (*domain.Worker, error)
	Heartbeat(ctx context.Context, workerID string) error
	// Deregister marks the worker DOWN on clean shutdown. The row stays so
	// archived jobs keep a valid reference.
	Deregister(ctx context.Context, workerID string) error
	CountUp(ctx context.Context) (int, error)

	// Janitor: mark workers with stale heartbeats DOWN and release their
	// jobs back to the queue, all in one tx. Returns how many of each.
	SweepStale(ctx context.Context, cutoff time.Time) (workers, jobs int, err error)
}
