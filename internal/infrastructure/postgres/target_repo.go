package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TargetRepository struct {
	pool *pgxpool.Pool
}

func NewTargetRepository(pool *pgxpool.Pool) *TargetRepository {
	return &TargetRepository{pool: pool}
}

func (r *TargetRepository) GetOrCreateGitRepo(ctx context.Context, url string) (*domain.GitRepo, error) {
	var g domain.GitRepo
	err := r.pool.QueryRow(ctx, `
		INSERT INTO git_repos (url) VALUES ($1)
		ON CONFLICT (url) DO UPDATE SET url = EXCLUDED.url
		RETURNING id, url, created_at`,
		url,
	).Scan(&g.ID, &g.URL, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create git repo: %w", err)
	}
	return &g, nil
}

func (r *TargetRepository) GetOrCreateGitHubRepo(ctx context.Context, owner, repo, instanceID string) (*domain.GitHubRepo, error) {
	var g domain.GitHubRepo
	err := r.pool.QueryRow(ctx, `
		INSERT INTO github_repos (owner, repo, instance_id) VALUES ($1, $2, $3)
		ON CONFLICT (owner, repo, instance_id) DO UPDATE SET owner = EXCLUDED.owner
		RETURNING id, owner, repo, instance_id, created_at`,
		owner, repo, instanceID,
	).Scan(&g.ID, &g.Owner, &g.Repo, &g.InstanceID, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create github repo: %w", err)
	}
	return &g, nil
}

func (r *TargetRepository) GetOrCreateGitLabRepo(ctx context.Context, owner, repo, instanceID string) (*domain.GitLabRepo, error) {
	var g domain.GitLabRepo
	err := r.pool.QueryRow(ctx, `
		INSERT INTO gitlab_repos (owner, repo, instance_id) VALUES ($1, $2, $3)
		ON CONFLICT (owner, repo, instance_id) DO UPDATE SET owner = EXCLUDED.owner
		RETURNING id, owner, repo, instance_id, created_at`,
		owner, repo, instanceID,
	).Scan(&g.ID, &g.Owner, &g.Repo, &g.InstanceID, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create gitlab repo: %w", err)
	}
	return &g, nil
}

func (r *TargetRepository) GetOrCreateMeetupGroup(ctx context.Context, name string) (*domain.MeetupGroup, error) {
	var g domain.MeetupGroup
	err := r.pool.QueryRow(ctx, `
		INSERT INTO meetup_groups (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at`,
		name,
	).Scan(&g.ID, &g.Name, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create meetup group: %w", err)
	}
	return &g, nil
}

func (r *TargetRepository) FindInstance(ctx context.Context, source domain.Source, name string) (*domain.Instance, error) {
	var in domain.Instance
	err := r.pool.QueryRow(ctx,
		`SELECT id, source, name, endpoint FROM instances WHERE source = $1 AND name = $2`,
		source, name,
	).Scan(&in.ID, &in.Source, &in.Name, &in.Endpoint)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("find instance: %w", err)
	}
	return &in, nil
}

// DescribeURL resolves the intention's target to what the task runner gets
// on its command line: a clone URL for git, the repository URL on its
// instance for github and gitlab, the group name for meetup.
func (r *TargetRepository) DescribeURL(ctx context.Context, kind domain.Kind, repoID string) (string, error) {
	var url string
	var err error

	switch kind.Source() {
	case domain.SourceGit:
		err = r.pool.QueryRow(ctx,
			`SELECT url FROM git_repos WHERE id = $1`, repoID,
		).Scan(&url)
	case domain.SourceGitHub:
		var endpoint, owner, repo string
		err = r.pool.QueryRow(ctx, `
			SELECT i.endpoint, g.owner, g.repo
			FROM github_repos g JOIN instances i ON i.id = g.instance_id
			WHERE g.id = $1`, repoID,
		).Scan(&endpoint, &owner, &repo)
		url = instanceRepoURL(endpoint, owner, repo)
	case domain.SourceGitLab:
		var endpoint, owner, repo string
		err = r.pool.QueryRow(ctx, `
			SELECT i.endpoint, g.owner, g.repo
			FROM gitlab_repos g JOIN instances i ON i.id = g.instance_id
			WHERE g.id = $1`, repoID,
		).Scan(&endpoint, &owner, &repo)
		url = instanceRepoURL(endpoint, owner, repo)
	case domain.SourceMeetup:
		err = r.pool.QueryRow(ctx,
			`SELECT name FROM meetup_groups WHERE id = $1`, repoID,
		).Scan(&url)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrRepoNotFound
		}
		return "", fmt.Errorf("describe target: %w", err)
	}
	return url, nil
}

// instanceRepoURL builds the repository URL under the instance's base
// endpoint, so self-hosted instances resolve to their own host.
func instanceRepoURL(endpoint, owner, repo string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(endpoint, "/"), owner, repo)
}
