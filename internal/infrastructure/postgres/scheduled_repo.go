package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ScheduledIntentionRepository struct {
	pool *pgxpool.Pool
}

func NewScheduledIntentionRepository(pool *pgxpool.Pool) *ScheduledIntentionRepository {
	return &ScheduledIntentionRepository{pool: pool}
}

const scheduledColumns = `id, kind, args, user_id, scheduled_at, depends_on_id,
	repeat_hours, cron_expr, worker_id, created_at`

func (r *ScheduledIntentionRepository) Create(ctx context.Context, s *domain.ScheduledIntention) (*domain.ScheduledIntention, error) {
	query := `
		INSERT INTO scheduled_intentions
			(kind, args, user_id, scheduled_at, depends_on_id, repeat_hours, cron_expr)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + scheduledColumns

	created, err := scanScheduled(r.pool.QueryRow(ctx, query,
		s.Kind, s.Args, s.UserID, s.ScheduledAt, s.DependsOnID, s.RepeatHours, s.CronExpr,
	))
	if err != nil {
		return nil, fmt.Errorf("create scheduled intention: %w", err)
	}
	return created, nil
}

func (r *ScheduledIntentionRepository) ListByUser(ctx context.Context, userID string) ([]*domain.ScheduledIntention, error) {
	query := `
		SELECT ` + scheduledColumns + `
		FROM scheduled_intentions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list scheduled intentions: %w", err)
	}
	defer rows.Close()
	return collectScheduled(rows)
}

func (r *ScheduledIntentionRepository) Delete(ctx context.Context, id, userID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM scheduled_intentions WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("delete scheduled intention: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduledNotFound
	}
	return nil
}

// ClaimDue stamps this worker on every due root row. SKIP LOCKED in the
// subselect keeps two workers from claiming the same row in one tick.
func (r *ScheduledIntentionRepository) ClaimDue(ctx context.Context, workerID string) ([]*domain.ScheduledIntention, error) {
	query := `
		UPDATE scheduled_intentions
		SET worker_id = $1
		WHERE id IN (
			SELECT id FROM scheduled_intentions
			WHERE worker_id IS NULL AND scheduled_at <= NOW()
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + scheduledColumns

	rows, err := r.pool.Query(ctx, query, workerID)
	if err != nil {
		return nil, fmt.Errorf("claim due scheduled intentions: %w", err)
	}
	defer rows.Close()
	return collectScheduled(rows)
}

func (r *ScheduledIntentionRepository) Children(ctx context.Context, parentID, workerID string) ([]*domain.ScheduledIntention, error) {
	query := `
		UPDATE scheduled_intentions
		SET worker_id = $2
		WHERE id IN (
			SELECT id FROM scheduled_intentions
			WHERE depends_on_id = $1 AND worker_id IS NULL
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + scheduledColumns

	rows, err := r.pool.Query(ctx, query, parentID, workerID)
	if err != nil {
		return nil, fmt.Errorf("claim dependent scheduled intentions: %w", err)
	}
	defer rows.Close()
	return collectScheduled(rows)
}

func (r *ScheduledIntentionRepository) Advance(ctx context.Context, id string, next *time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE scheduled_intentions SET scheduled_at = $2, worker_id = NULL WHERE id = $1`,
		id, next,
	)
	if err != nil {
		return fmt.Errorf("advance scheduled intention: %w", err)
	}
	return nil
}

func (r *ScheduledIntentionRepository) ReleaseAll(ctx context.Context, workerID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE scheduled_intentions SET worker_id = NULL WHERE worker_id = $1`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("release scheduled intentions: %w", err)
	}
	return nil
}

func collectScheduled(rows pgx.Rows) ([]*domain.ScheduledIntention, error) {
	var out []*domain.ScheduledIntention
	for rows.Next() {
		s, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanScheduled(row rowScanner) (*domain.ScheduledIntention, error) {
	var s domain.ScheduledIntention
	err := row.Scan(
		&s.ID, &s.Kind, &s.Args, &s.UserID, &s.ScheduledAt, &s.DependsOnID,
		&s.RepeatHours, &s.CronExpr, &s.WorkerID, &s.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan scheduled intention: %w", err)
	}
	return &s, nil
}
