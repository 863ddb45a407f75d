package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) Create(ctx context.Context, t *domain.Token) (*domain.Token, error) {
	query := `
		INSERT INTO tokens (source, user_id, secret, refresh_secret)
		VALUES ($1, $2, $3, $4)
		RETURNING id, source, user_id, secret, refresh_secret, reset_at, created_at`

	created, err := scanToken(r.pool.QueryRow(ctx, query,
		t.Source, t.UserID, t.Secret, t.RefreshSecret,
	))
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return created, nil
}

func (r *TokenRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Token, error) {
	query := `
		SELECT id, source, user_id, secret, refresh_secret, reset_at, created_at
		FROM tokens
		WHERE user_id = $1
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TokenRepository) CountByUserSource(ctx context.Context, userID string, source domain.Source) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tokens WHERE user_id = $1 AND source = $2`,
		userID, source,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return n, nil
}

func (r *TokenRepository) Delete(ctx context.Context, id, userID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM tokens WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTokenNotFound
	}
	return nil
}

func (r *TokenRepository) FirstReadyForJob(ctx context.Context, jobID string) (*domain.Token, error) {
	query := `
		SELECT t.id, t.source, t.user_id, t.secret, t.refresh_secret, t.reset_at, t.created_at
		FROM tokens t
		JOIN token_jobs tj ON tj.token_id = t.id
		WHERE tj.job_id = $1 AND t.reset_at < NOW()
		ORDER BY t.reset_at
		LIMIT 1`

	t, err := scanToken(r.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TokenRepository) Delay(ctx context.Context, tokenID string, until time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tokens SET reset_at = $2 WHERE id = $1`,
		tokenID, until,
	)
	if err != nil {
		return fmt.Errorf("delay token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTokenNotFound
	}
	return nil
}

func scanToken(row rowScanner) (*domain.Token, error) {
	var t domain.Token
	err := row.Scan(&t.ID, &t.Source, &t.UserID, &t.Secret, &t.RefreshSecret, &t.ResetAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}
	return &t, nil
}
