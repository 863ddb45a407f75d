package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WorkerRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewWorkerRepository(pool *pgxpool.Pool, logger *slog.Logger) *WorkerRepository {
	return &WorkerRepository{pool: pool, logger: logger.With("component", "worker_repo")}
}

func (r *WorkerRepository) Register(ctx context.Context, hostname string) (*domain.Worker, error) {
	query := `
		INSERT INTO workers (hostname)
		VALUES ($1)
		RETURNING id, hostname, status, started_at, heartbeat_at`

	w, err := scanWorker(r.pool.QueryRow(ctx, query, hostname))
	if err != nil {
		return nil, fmt.Errorf("register worker: %w", err)
	}
	return w, nil
}

func (r *WorkerRepository) Heartbeat(ctx context.Context, workerID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE workers SET heartbeat_at = NOW(), status = 'UP' WHERE id = $1`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}

func (r *WorkerRepository) Deregister(ctx context.Context, workerID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE workers SET status = 'DOWN' WHERE id = $1`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("deregister worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}

func (r *WorkerRepository) CountUp(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM workers WHERE status = 'UP'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count workers: %w", err)
	}
	return n, nil
}

// SweepStale marks every UP worker whose heartbeat predates cutoff as DOWN
// and puts their jobs back on the queue, all in one tx so a job is never
// orphaned with a dead owner.
func (r *WorkerRepository) SweepStale(ctx context.Context, cutoff time.Time) (int, int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `
		UPDATE workers
		SET status = 'DOWN'
		WHERE status = 'UP' AND heartbeat_at < $1
		RETURNING id`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("mark stale workers: %w", err)
	}

	var stale []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			rows.Close()
			err = scanErr
			return 0, 0, fmt.Errorf("scan stale worker: %w", err)
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("iterate stale workers: %w", err)
	}

	if len(stale) == 0 {
		if err = tx.Commit(ctx); err != nil {
			return 0, 0, fmt.Errorf("commit tx: %w", err)
		}
		return 0, 0, nil
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET worker_id = NULL WHERE worker_id = ANY($1::uuid[])`,
		stale,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("release jobs of stale workers: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit tx: %w", err)
	}

	r.logger.Info("swept stale workers",
		"workers", len(stale),
		"jobs_released", tag.RowsAffected(),
	)
	return len(stale), int(tag.RowsAffected()), nil
}

func scanWorker(row pgx.Row) (*domain.Worker, error) {
	var w domain.Worker
	err := row.Scan(&w.ID, &w.Hostname, &w.Status, &w.StartedAt, &w.HeartbeatAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	return &w, nil
}
