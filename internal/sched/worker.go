package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cauldronio/poolsched/internal/domain"
	ctxlog "github.com/cauldronio/poolsched/internal/log"
	"github.com/cauldronio/poolsched/internal/metrics"
	"github.com/cauldronio/poolsched/internal/repository"
)

const (
	// maxClaimedPerWorker stops a worker from admitting new jobs while
	// the fleet already holds five jobs per live worker. Resuming is
	// never blocked, only creating.
	maxClaimedPerWorker = 5

	heartbeatInterval = 10 * time.Second

	// tokenGrace pads a reported rate-limit reset so the job is not
	// resumed a moment before the quota actually returns.
	tokenGrace = 2 * time.Minute
)

// Options tune the dispatch loop. Zero values are replaced by the
// defaults the config package declares.
type Options struct {
	IdleSleep      time.Duration
	MaxUsers       int
	MaxIntentions  int
	FinishWhenIdle bool
}

// Worker is one schedworker process: it registers itself, then loops
// materializing scheduled intentions, resuming parked jobs, admitting new
// ones and running whatever it obtained.
type Worker struct {
	id       string
	hostname string

	workers    repository.WorkerRepository
	jobs       repository.JobRepository
	intentions repository.IntentionRepository
	tokens     repository.TokenRepository

	executor     *Executor
	materializer *Materializer

	logger *slog.Logger
	opts   Options
}

func NewWorker(
	workers repository.WorkerRepository,
	jobs repository.JobRepository,
	intentions repository.IntentionRepository,
	tokens repository.TokenRepository,
	executor *Executor,
	materializer *Materializer,
	hostname string,
	logger *slog.Logger,
	opts Options,
) *Worker {
	if opts.IdleSleep <= 0 {
		opts.IdleSleep = 3 * time.Second
	}
	if opts.MaxUsers <= 0 {
		opts.MaxUsers = 4
	}
	if opts.MaxIntentions <= 0 {
		opts.MaxIntentions = 1
	}
	return &Worker{
		hostname:     hostname,
		workers:      workers,
		jobs:         jobs,
		intentions:   intentions,
		tokens:       tokens,
		executor:     executor,
		materializer: materializer,
		logger:       logger,
		opts:         opts,
	}
}

// Start runs the dispatch loop until ctx is cancelled, or until the queue
// drains when FinishWhenIdle is set. The worker row is marked DOWN on the
// way out.
func (w *Worker) Start(ctx context.Context) error {
	reg, err := w.workers.Register(ctx, w.hostname)
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	w.id = reg.ID
	w.logger = w.logger.With("worker_id", w.id)

	metrics.WorkerStartTime.SetToCurrentTime()
	w.logger.Info("worker started", "hostname", w.hostname)

	waitMsg := true
	for ctx.Err() == nil {
		if err := w.workers.Heartbeat(ctx, w.id); err != nil && ctx.Err() == nil {
			w.logger.Warn("worker heartbeat", "error", err)
		}

		w.materializer.Tick(ctx, w.id)

		if waitMsg {
			w.logger.Info("waiting for new tasks")
			waitMsg = false
		}

		start := time.Now()
		ran, drained := w.tick(ctx)
		metrics.TickDuration.Observe(time.Since(start).Seconds())

		if ran {
			waitMsg = true
			continue
		}
		if w.opts.FinishWhenIdle && drained {
			w.logger.Info("queue drained, finishing")
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(w.opts.IdleSleep):
		}
	}

	// The registration row outlives the process; archived jobs point at it.
	downCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.workers.Deregister(downCtx, w.id); err != nil {
		w.logger.Error("deregister worker", "error", err)
	}
	w.logger.Info("worker shut down")
	return nil
}

// tick makes at most one job run. Resuming parked jobs has priority over
// admitting new intentions, and admission is skipped entirely while the
// fleet is hoarding. drained is true when no job is claimed anywhere, the
// signal the finish-when-idle mode waits for.
func (w *Worker) tick(ctx context.Context) (ran, drained bool) {
	bj := w.resume(ctx)

	claimed := -1
	if bj == nil {
		var err error
		claimed, err = w.jobs.CountClaimed(ctx)
		if err != nil {
			w.logger.Error("count claimed jobs", "error", err)
			return false, false
		}
		up, err := w.workers.CountUp(ctx)
		if err != nil {
			w.logger.Error("count workers", "error", err)
			return false, false
		}
		if up < 1 {
			up = 1
		}
		if claimed < maxClaimedPerWorker*up {
			bj = w.admit(ctx)
		} else {
			w.logger.Debug("job hoarding guard active", "claimed", claimed, "workers", up)
		}
	}

	if bj != nil {
		w.runJob(ctx, bj)
		return true, false
	}
	return false, claimed == 0
}

// resume looks for an unclaimed resumable job, consulting kinds in
// priority order so in-flight pipelines reach their final state before new
// raw gathering starts.
func (w *Worker) resume(ctx context.Context) *repository.BoundJob {
	for _, kind := range domain.KindsByPriority {
		bj, err := w.intentions.NextJob(ctx, kind, w.id)
		if err != nil {
			w.logger.Error("next job", "kind", string(kind), "error", err)
			continue
		}
		if bj != nil {
			metrics.JobsResumedTotal.Inc()
			w.logger.Info("resuming job", "job_id", bj.Job.ID, "kind", string(kind))
			return bj
		}
	}
	return nil
}

// admit walks admittable intentions of a few random users. Each candidate
// first tries to ride an existing job for the same work; the first one
// that cannot gets a job of its own and decides the tick.
func (w *Worker) admit(ctx context.Context) *repository.BoundJob {
	users, err := w.intentions.UsersWithReady(ctx, w.opts.MaxUsers)
	if err != nil {
		w.logger.Error("users with ready intentions", "error", err)
		return nil
	}

	for _, in := range w.candidates(ctx, users) {
		job, err := w.intentions.Coalesce(ctx, in.ID)
		if err != nil {
			w.logger.Error("coalesce intention", "intention_id", in.ID, "error", err)
			continue
		}
		if job != nil {
			metrics.IntentionsCoalescedTotal.Inc()
			w.logger.Info("intention coalesced",
				"intention_id", in.ID,
				"job_id", job.ID,
				"kind", string(in.Kind),
			)
			continue
		}

		job, err = w.intentions.CreateJob(ctx, in.ID, w.id)
		if err != nil {
			w.logger.Error("create job", "intention_id", in.ID, "error", err)
		}
		if job != nil {
			metrics.JobsCreatedTotal.Inc()
			w.logger.Info("job created",
				"intention_id", in.ID,
				"job_id", job.ID,
				"kind", string(in.Kind),
			)
			return &repository.BoundJob{Job: job, Intention: in}
		}
		break
	}
	return nil
}

func (w *Worker) candidates(ctx context.Context, users []string) []*domain.Intention {
	var out []*domain.Intention
	for _, user := range users {
		for _, kind := range domain.KindsByPriority {
			ins, err := w.intentions.Selectable(ctx, user, kind, w.opts.MaxIntentions-len(out))
			if err != nil {
				w.logger.Error("selectable intentions",
					"user_id", user,
					"kind", string(kind),
					"error", err,
				)
				continue
			}
			out = append(out, ins...)
			if len(out) >= w.opts.MaxIntentions {
				return out
			}
		}
	}
	return out
}

func (w *Worker) runJob(ctx context.Context, bj *repository.BoundJob) {
	ctx = ctxlog.WithJobID(ctx, bj.Job.ID)
	logger := w.logger.With("job_id", bj.Job.ID, "kind", string(bj.Intention.Kind))

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go w.heartbeatDuring(hbCtx, logger)

	out := w.executor.Execute(ctx, bj)

	switch {
	case out.RetryMinutes > 0:
		until := time.Now().Add(time.Duration(out.RetryMinutes)*time.Minute + tokenGrace)
		if out.TokenID != "" {
			if err := w.tokens.Delay(ctx, out.TokenID, until); err != nil {
				logger.Error("delay token", "token_id", out.TokenID, "error", err)
			}
			metrics.TokenDelaysTotal.WithLabelValues(string(bj.Intention.Kind.Source())).Inc()
		}
		w.release(ctx, bj.Job.ID, "token_exhausted", logger)
		logger.Warn("token exhausted, job parked",
			"retry_minutes", out.RetryMinutes,
			"until", until,
		)

	case errors.Is(out.Err, domain.ErrNoReadyToken):
		w.release(ctx, bj.Job.ID, "no_ready_token", logger)
		logger.Info("no ready token, job released")

	case out.Err != nil && ctx.Err() != nil:
		// Shutdown killed the task; hand the job back instead of
		// archiving a spurious failure.
		downCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.release(downCtx, bj.Job.ID, "shutdown", logger)
		logger.Info("shutdown during job, released")

	case out.Err != nil:
		logger.Error("job failed", "error", out.Err)
		w.archive(ctx, bj.Job.ID, domain.ArchError, logger)

	default:
		w.archive(ctx, bj.Job.ID, domain.ArchOK, logger)
		logger.Info("job completed")
	}
}

func (w *Worker) archive(ctx context.Context, jobID string, status domain.ArchStatus, logger *slog.Logger) {
	if _, err := w.jobs.Archive(ctx, jobID, status); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			logger.Warn("job vanished before archive", "status", string(status))
			return
		}
		logger.Error("archive job", "error", err)
		return
	}
	metrics.JobsArchivedTotal.WithLabelValues(string(status)).Inc()
}

func (w *Worker) release(ctx context.Context, jobID, reason string, logger *slog.Logger) {
	if err := w.jobs.Release(ctx, jobID, w.id); err != nil {
		logger.Error("release job", "error", err)
		return
	}
	metrics.JobsReleasedTotal.WithLabelValues(reason).Inc()
}

// heartbeatDuring keeps the worker row fresh while a long task runs, so
// the janitor does not reap us mid-job.
func (w *Worker) heartbeatDuring(ctx context.Context, logger *slog.Logger) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.workers.Heartbeat(ctx, w.id); err != nil {
				logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}
