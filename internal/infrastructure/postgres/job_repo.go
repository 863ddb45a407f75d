package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewJobRepository(pool *pgxpool.Pool, logger *slog.Logger) *JobRepository {
	return &JobRepository{pool: pool, logger: logger.With("component", "job_repo")}
}

func (r *JobRepository) CountClaimed(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE worker_id IS NOT NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count claimed jobs: %w", err)
	}
	return n, nil
}

// EnsureLog returns the job's log record, creating it with the given
// location on first call. A resumed job keeps appending to its original
// log file.
func (r *JobRepository) EnsureLog(ctx context.Context, jobID, location string) (*domain.Log, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var logID *string
	err = tx.QueryRow(ctx,
		`SELECT log_id FROM jobs WHERE id = $1 FOR UPDATE`, jobID,
	).Scan(&logID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrJobNotFound
		}
		return nil, err
	}

	var l domain.Log
	if logID != nil {
		err = tx.QueryRow(ctx,
			`SELECT id, location, created_at FROM logs WHERE id = $1`, *logID,
		).Scan(&l.ID, &l.Location, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
	} else {
		err = tx.QueryRow(ctx,
			`INSERT INTO logs (location) VALUES ($1) RETURNING id, location, created_at`,
			location,
		).Scan(&l.ID, &l.Location, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("create log: %w", err)
		}
		if _, err = tx.Exec(ctx,
			`UPDATE jobs SET log_id = $2 WHERE id = $1`, jobID, l.ID,
		); err != nil {
			return nil, fmt.Errorf("attach log: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &l, nil
}

func (r *JobRepository) Release(ctx context.Context, jobID, workerID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE jobs SET worker_id = NULL WHERE id = $1 AND worker_id = $2`,
		jobID, workerID,
	)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Archive freezes a finished job. The arch_jobs row and one archived
// intention per bound intention are written, then the live rows go away:
// deleting the intentions cascades through intention_prereqs, which is what
// unblocks dependent intentions, and deleting the job cascades through
// token_jobs, which is what returns token capacity.
func (r *JobRepository) Archive(ctx context.Context, jobID string, status domain.ArchStatus) (*domain.ArchJob, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var j domain.Job
	var logLocation *string
	err = tx.QueryRow(ctx, `
		SELECT j.id, j.worker_id, j.created_at, l.location
		FROM jobs j
		LEFT JOIN logs l ON l.id = j.log_id
		WHERE j.id = $1
		FOR UPDATE OF j`, jobID,
	).Scan(&j.ID, &j.WorkerID, &j.CreatedAt, &logLocation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrJobNotFound
		}
		return nil, err
	}

	var arch domain.ArchJob
	err = tx.QueryRow(ctx, `
		INSERT INTO arch_jobs (created_at, worker_id, log_location)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, archived_at, worker_id, log_location`,
		j.CreatedAt, j.WorkerID, logLocation,
	).Scan(&arch.ID, &arch.CreatedAt, &arch.ArchivedAt, &arch.WorkerID, &arch.LogLocation)
	if err != nil {
		return nil, fmt.Errorf("insert arch job: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO archived_intentions (kind, user_id, repo_id, status, arch_job_id, created_at)
		SELECT kind, user_id, repo_id, $2, $3, created_at
		FROM intentions
		WHERE job_id = $1`,
		jobID, status, arch.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("archive intentions: %w", err)
	}

	if _, err = tx.Exec(ctx,
		`DELETE FROM intentions WHERE job_id = $1`, jobID,
	); err != nil {
		return nil, fmt.Errorf("delete intentions: %w", err)
	}
	if _, err = tx.Exec(ctx,
		`DELETE FROM jobs WHERE id = $1`, jobID,
	); err != nil {
		return nil, fmt.Errorf("delete job: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	r.logger.Info("job archived",
		"job_id", jobID,
		"status", string(status),
		"intentions", tag.RowsAffected(),
	)
	return &arch, nil
}
