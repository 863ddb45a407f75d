package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IntentionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewIntentionRepository(pool *pgxpool.Pool, logger *slog.Logger) *IntentionRepository {
	return &IntentionRepository{pool: pool, logger: logger.With("component", "intention_repo")}
}

func (r *IntentionRepository) UsersWithReady(ctx context.Context, max int) ([]string, error) {
	// Random order spreads workers over users instead of having every
	// worker grind through the same user's queue.
	query := `
		SELECT user_id FROM (
			SELECT DISTINCT i.user_id
			FROM intentions i
			WHERE i.job_id IS NULL
			  AND NOT EXISTS (
				SELECT 1 FROM intention_prereqs p WHERE p.intention_id = i.id
			  )
		) ready
		ORDER BY random()
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, max)
	if err != nil {
		return nil, fmt.Errorf("users with ready intentions: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (r *IntentionRepository) Selectable(ctx context.Context, userID string, kind domain.Kind, max int) ([]*domain.Intention, error) {
	// Token-backed kinds are gated up front: the user needs at least one
	// token that is both past its reset time and below the per-token job
	// cap, otherwise nothing of this kind is admittable right now and the
	// intention scan is skipped entirely.
	if kind.NeedsToken() {
		var ok bool
		err := r.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM tokens t
				WHERE t.user_id = $1 AND t.source = $2
				  AND t.reset_at < NOW()
				  AND (SELECT COUNT(*) FROM token_jobs tj WHERE tj.token_id = t.id) < $3
			)`,
			userID, kind.Source(), kind.Source().MaxJobsPerToken(),
		).Scan(&ok)
		if err != nil {
			return nil, fmt.Errorf("check token readiness: %w", err)
		}
		if !ok {
			return nil, nil
		}
	}

	query := `
		SELECT i.id, i.kind, i.user_id, i.repo_id, i.job_id, i.created_at
		FROM intentions i
		WHERE i.user_id = $1 AND i.kind = $2 AND i.job_id IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM intention_prereqs p WHERE p.intention_id = i.id
		  )
		ORDER BY i.created_at, i.id
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, userID, kind, max)
	if err != nil {
		return nil, fmt.Errorf("selectable intentions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Intention
	for rows.Next() {
		in, err := scanIntention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Coalesce binds the intention to a sibling's job so both share one run.
// The bind sticks even when no token can be attached: the intention will
// then simply be archived with the job instead of ever running on its own.
func (r *IntentionRepository) Coalesce(ctx context.Context, intentionID string) (*domain.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var kind domain.Kind
	var userID, repoID string
	var jobID *string
	err = tx.QueryRow(ctx,
		`SELECT kind, user_id, repo_id, job_id FROM intentions WHERE id = $1`,
		intentionID,
	).Scan(&kind, &userID, &repoID, &jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Archived under us; nothing to do.
			err = tx.Commit(ctx)
			return nil, err
		}
		return nil, fmt.Errorf("read intention: %w", err)
	}

	job, err := scanJob(tx.QueryRow(ctx, `
		SELECT j.id, j.worker_id, j.log_id, j.created_at
		FROM intentions s
		JOIN jobs j ON j.id = s.job_id
		WHERE s.kind = $1 AND s.repo_id = $2
		ORDER BY s.created_at, s.id
		LIMIT 1`,
		kind, repoID,
	))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			err = tx.Commit(ctx)
			return nil, err
		}
		return nil, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE intentions SET job_id = $2 WHERE id = $1 AND (job_id IS NULL OR job_id = $2)`,
		intentionID, job.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("bind intention: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = tx.Commit(ctx)
		return nil, err
	}

	if kind.NeedsToken() {
		attached, attachErr := attachSpareTokens(ctx, tx, userID, kind.Source(), job.ID)
		if attachErr != nil {
			err = attachErr
			return nil, err
		}
		if !attached {
			// Bound, but this user brings no capacity. Keep the bind,
			// report no usable job.
			if err = tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("commit tx: %w", err)
			}
			return nil, nil
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return job, nil
}

func (r *IntentionRepository) CreateJob(ctx context.Context, intentionID, workerID string) (*domain.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var kind domain.Kind
	var userID, repoID string
	var jobID *string
	err = tx.QueryRow(ctx,
		`SELECT kind, user_id, repo_id, job_id FROM intentions WHERE id = $1 FOR UPDATE NOWAIT`,
		intentionID,
	).Scan(&kind, &userID, &repoID, &jobID)
	if err != nil {
		if isLockNotAvailable(err) || errors.Is(err, pgx.ErrNoRows) {
			// Another worker is handling this intention right now.
			_ = tx.Rollback(ctx)
			err = nil
			return nil, nil
		}
		return nil, fmt.Errorf("lock intention: %w", err)
	}
	if jobID != nil {
		err = tx.Commit(ctx)
		return nil, err
	}

	// Admission control for token-backed kinds: no spare capacity on any
	// of the user's tokens means no new job. Token readiness is checked
	// at execution time, not here.
	var spare []string
	if kind.NeedsToken() {
		spare, err = spareTokens(ctx, tx, userID, kind.Source())
		if err != nil {
			return nil, err
		}
		if len(spare) == 0 {
			err = tx.Commit(ctx)
			return nil, err
		}
	}

	job, err := scanJob(tx.QueryRow(ctx,
		`INSERT INTO jobs (worker_id) VALUES ($1) RETURNING id, worker_id, log_id, created_at`,
		workerID,
	))
	if err != nil {
		return nil, err
	}
	if _, err = tx.Exec(ctx,
		`UPDATE intentions SET job_id = $2 WHERE id = $1`,
		intentionID, job.ID,
	); err != nil {
		return nil, fmt.Errorf("bind intention: %w", err)
	}
	for _, tokenID := range spare {
		if _, err = tx.Exec(ctx,
			`INSERT INTO token_jobs (token_id, job_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			tokenID, job.ID,
		); err != nil {
			return nil, fmt.Errorf("attach token: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return job, nil
}

func (r *IntentionRepository) NextJob(ctx context.Context, kind domain.Kind, workerID string) (*repository.BoundJob, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := `
		SELECT j.id, j.worker_id, j.log_id, j.created_at,
		       i.id, i.kind, i.user_id, i.repo_id, i.job_id, i.created_at
		FROM jobs j
		JOIN intentions i ON i.job_id = j.id
		WHERE i.kind = $1 AND j.worker_id IS NULL`
	if kind.NeedsToken() {
		query += `
		  AND EXISTS (
			SELECT 1 FROM token_jobs tj
			JOIN tokens t ON t.id = tj.token_id
			WHERE tj.job_id = j.id AND t.reset_at < NOW()
		  )`
	}
	query += `
		ORDER BY j.created_at, j.id, i.created_at
		LIMIT 1
		FOR UPDATE OF j SKIP LOCKED`

	var j domain.Job
	var in domain.Intention
	err = tx.QueryRow(ctx, query, kind).Scan(
		&j.ID, &j.WorkerID, &j.LogID, &j.CreatedAt,
		&in.ID, &in.Kind, &in.UserID, &in.RepoID, &in.JobID, &in.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = tx.Commit(ctx)
			return nil, err
		}
		return nil, fmt.Errorf("scan resumable job: %w", err)
	}

	if _, err = tx.Exec(ctx,
		`UPDATE jobs SET worker_id = $2 WHERE id = $1`,
		j.ID, workerID,
	); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	j.WorkerID = &workerID
	return &repository.BoundJob{Job: &j, Intention: &in}, nil
}

func (r *IntentionRepository) GetOrCreate(ctx context.Context, kind domain.Kind, userID, repoID string) (*domain.Intention, bool, error) {
	insert := `
		INSERT INTO intentions (kind, user_id, repo_id)
		VALUES ($1, $2, $3)
		RETURNING id, kind, user_id, repo_id, job_id, created_at`
	find := `
		SELECT id, kind, user_id, repo_id, job_id, created_at
		FROM intentions
		WHERE kind = $1 AND user_id = $2 AND repo_id = $3`

	// A duplicate-key failure means the (kind, user, repo) row already
	// exists, so fall through to the read. Two rounds cover the race where
	// the conflicting row is archived between our insert and our read.
	for attempt := 0; attempt < 2; attempt++ {
		in, err := scanIntention(r.pool.QueryRow(ctx, insert, kind, userID, repoID))
		if err == nil {
			return in, true, nil
		}
		if !isUniqueViolation(err) {
			return nil, false, err
		}

		in, err = scanIntention(r.pool.QueryRow(ctx, find, kind, userID, repoID))
		if err == nil {
			return in, false, nil
		}
		if !errors.Is(err, domain.ErrIntentionNotFound) {
			return nil, false, err
		}
	}
	return nil, false, domain.ErrIntentionNotFound
}

func (r *IntentionRepository) AddPrevious(ctx context.Context, intentionID, previousID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO intention_prereqs (intention_id, previous_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		intentionID, previousID,
	)
	if err != nil {
		return fmt.Errorf("add previous: %w", err)
	}
	return nil
}

func (r *IntentionRepository) ListByUser(ctx context.Context, userID string, kind domain.Kind) ([]*domain.Intention, error) {
	args := []any{userID}
	where := []string{"user_id = $1"}

	if kind != "" {
		args = append(args, kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT id, kind, user_id, repo_id, job_id, created_at
		FROM intentions
		WHERE %s
		ORDER BY created_at DESC, id DESC`,
		strings.Join(where, " AND "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list intentions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Intention
	for rows.Next() {
		in, err := scanIntention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (r *IntentionRepository) ListArchived(ctx context.Context, input repository.ListArchivedInput) ([]*domain.ArchivedIntention, error) {
	args := []any{input.UserID}
	where := []string{"user_id = $1"}

	if input.Kind != "" {
		args = append(args, input.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(completed_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, input.Limit)

	query := fmt.Sprintf(`
		SELECT id, kind, user_id, repo_id, status, arch_job_id, created_at, completed_at
		FROM archived_intentions
		WHERE %s
		ORDER BY completed_at DESC, id DESC
		LIMIT $%d`,
		strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list archived intentions: %w", err)
	}
	defer rows.Close()

	var out []*domain.ArchivedIntention
	for rows.Next() {
		var a domain.ArchivedIntention
		if err := rows.Scan(
			&a.ID, &a.Kind, &a.UserID, &a.RepoID, &a.Status,
			&a.ArchJobID, &a.CreatedAt, &a.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan archived intention: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// spareTokens returns the locked ids of the user's tokens for this source
// that are attached to fewer jobs than the source's cap.
func spareTokens(ctx context.Context, tx pgx.Tx, userID string, source domain.Source) ([]string, error) {
	maxJobs := source.MaxJobsPerToken()

	rows, err := tx.Query(ctx, `
		SELECT t.id,
		       (SELECT COUNT(*) FROM token_jobs tj WHERE tj.token_id = t.id) AS held
		FROM tokens t
		WHERE t.user_id = $1 AND t.source = $2
		ORDER BY t.created_at
		FOR UPDATE`,
		userID, source,
	)
	if err != nil {
		return nil, fmt.Errorf("lock tokens: %w", err)
	}
	defer rows.Close()

	var spare []string
	for rows.Next() {
		var id string
		var held int
		if err := rows.Scan(&id, &held); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		if held < maxJobs {
			spare = append(spare, id)
		}
	}
	return spare, rows.Err()
}

func attachSpareTokens(ctx context.Context, tx pgx.Tx, userID string, source domain.Source, jobID string) (bool, error) {
	spare, err := spareTokens(ctx, tx, userID, source)
	if err != nil {
		return false, err
	}
	for _, tokenID := range spare {
		if _, err := tx.Exec(ctx,
			`INSERT INTO token_jobs (token_id, job_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			tokenID, jobID,
		); err != nil {
			return false, fmt.Errorf("attach token: %w", err)
		}
	}
	return len(spare) > 0, nil
}

func scanIntention(row rowScanner) (*domain.Intention, error) {
	var in domain.Intention
	err := row.Scan(&in.ID, &in.Kind, &in.UserID, &in.RepoID, &in.JobID, &in.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIntentionNotFound
		}
		return nil, fmt.Errorf("scan intention: %w", err)
	}
	return &in, nil
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(&j.ID, &j.WorkerID, &j.LogID, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}
