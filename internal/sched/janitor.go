package sched

import (
	"context"
	"log/slog"
	"time"

	"github.com/cauldronio/poolsched/internal/metrics"
	"github.com/cauldronio/poolsched/internal/repository"
)

// Janitor marks workers whose heartbeat went stale as DOWN and puts their
// claimed jobs back on the queue. Without it a crashed worker strands its
// jobs until someone intervenes by hand.
type Janitor struct {
	workers  repository.WorkerRepository
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger
}

func NewJanitor(workers repository.WorkerRepository, interval, ttl time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		workers:  workers,
		interval: interval,
		ttl:      ttl,
		logger:   logger.With("component", "janitor"),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("janitor started", "interval", j.interval, "worker_ttl", j.ttl)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor shut down")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.ttl)

	workers, jobs, err := j.workers.SweepStale(ctx, cutoff)
	if err != nil {
		j.logger.Error("sweep stale workers", "error", err)
		return
	}
	if workers == 0 {
		return
	}

	metrics.WorkersReapedTotal.Add(float64(workers))
	metrics.JobsReclaimedTotal.Add(float64(jobs))
	j.logger.Warn("reaped stale workers", "workers", workers, "jobs_reclaimed", jobs)
}
