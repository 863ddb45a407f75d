package repository

import (
	"context"

	"github.com/cauldronio/poolsched/internal/domain"
)

type TargetRepository interface {
	GetOrCreateGitRepo(ctx context.Context, url string) (*domain.GitRepo, error)
	GetOrCreateGitHubRepo(ctx context.Context, owner, repo, instanceID string) (*domain.GitHubRepo, error)
	GetOrCreateGitLabRepo(ctx context.Context, owner, repo, instanceID string) (*domain.GitLabRepo, error)
	GetOrCreateMeetupGroup(ctx context.Context, name string) (*domain.MeetupGroup, error)

	FindInstance(ctx context.Context, source domain.Source, name string) (*domain.Instance, error)

	// DescribeURL resolves an intention's repo_id to the URL (or group
	// name, for meetup) handed to the task runner.
	DescribeURL(ctx context.Context, kind domain.Kind, repoID string) (string, error)
}
