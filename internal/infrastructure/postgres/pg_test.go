package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/infrastructure/postgres"
	"github.com/cauldronio/poolsched/internal/migrate"
)

// The tests in this package run against a real database named by
// TEST_DATABASE_URL and are skipped when it is unset. Migrations are applied
// once per run; every test starts from truncated tables.

var (
	poolOnce   sync.Once
	sharedPool *pgxpool.Pool
	poolErr    error
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping store tests")
	}

	poolOnce.Do(func() {
		ctx := context.Background()
		sharedPool, poolErr = postgres.NewPool(ctx, dsn)
		if poolErr == nil {
			poolErr = migrate.Apply(ctx, sharedPool, testLogger())
		}
	})
	if poolErr != nil {
		t.Fatalf("test database setup: %v", poolErr)
	}

	_, err := sharedPool.Exec(context.Background(), `
		TRUNCATE users, magic_tokens, workers, logs, jobs, arch_jobs,
			git_repos, github_repos, gitlab_repos, meetup_groups,
			tokens, token_jobs, intentions, intention_prereqs,
			archived_intentions, scheduled_intentions
		CASCADE`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return sharedPool
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedUser(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	var id string
	err := pool.QueryRow(context.Background(),
		`INSERT INTO users (email) VALUES ($1) RETURNING id`,
		uuid.NewString()+"@example.com",
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func seedWorker(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	var id string
	err := pool.QueryRow(context.Background(),
		`INSERT INTO workers (hostname) VALUES ('test-host') RETURNING id`,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed worker: %v", err)
	}
	return id
}

func seedToken(t *testing.T, pool *pgxpool.Pool, userID string, source domain.Source, resetAt time.Time) string {
	t.Helper()
	var id string
	err := pool.QueryRow(context.Background(),
		`INSERT INTO tokens (source, user_id, secret, reset_at)
		 VALUES ($1, $2, 's3cret', $3) RETURNING id`,
		source, userID, resetAt,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed token: %v", err)
	}
	return id
}

func seedGitRepo(t *testing.T, pool *pgxpool.Pool, url string) string {
	t.Helper()
	repo, err := postgres.NewTargetRepository(pool).GetOrCreateGitRepo(context.Background(), url)
	if err != nil {
		t.Fatalf("seed git repo: %v", err)
	}
	return repo.ID
}

func seedGitHubRepo(t *testing.T, pool *pgxpool.Pool, owner, name string) string {
	t.Helper()
	targets := postgres.NewTargetRepository(pool)
	inst, err := targets.FindInstance(context.Background(), domain.SourceGitHub, "GitHub")
	if err != nil {
		t.Fatalf("find github instance: %v", err)
	}
	repo, err := targets.GetOrCreateGitHubRepo(context.Background(), owner, name, inst.ID)
	if err != nil {
		t.Fatalf("seed github repo: %v", err)
	}
	return repo.ID
}

func seedMeetupGroup(t *testing.T, pool *pgxpool.Pool, name string) string {
	t.Helper()
	g, err := postgres.NewTargetRepository(pool).GetOrCreateMeetupGroup(context.Background(), name)
	if err != nil {
		t.Fatalf("seed meetup group: %v", err)
	}
	return g.ID
}

func seedIntention(t *testing.T, pool *pgxpool.Pool, kind domain.Kind, userID, repoID string) *domain.Intention {
	t.Helper()
	in, _, err := postgres.NewIntentionRepository(pool, testLogger()).
		GetOrCreate(context.Background(), kind, userID, repoID)
	if err != nil {
		t.Fatalf("seed %s intention: %v", kind, err)
	}
	return in
}

func countRows(t *testing.T, pool *pgxpool.Pool, table string) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func past() time.Time   { return time.Now().Add(-time.Hour) }
func future() time.Time { return time.Now().Add(time.Hour) }
