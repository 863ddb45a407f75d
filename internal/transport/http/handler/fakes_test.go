package handler_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/repository"
)

const testUserID = "user-1"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withUser stands in for the Auth middleware on protected routes.
func withUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) { c.Set("userID", userID) }
}

// ---- repository fakes, quiet by default ----

type fakeTokenRepo struct {
	create            func(ctx context.Context, t *domain.Token) (*domain.Token, error)
	listByUser        func(ctx context.Context, userID string) ([]*domain.Token, error)
	deleteToken       func(ctx context.Context, id, userID string) error
	countByUserSource func(ctx context.Context, userID string, source domain.Source) (int, error)
}

func (r *fakeTokenRepo) Create(ctx context.Context, t *domain.Token) (*domain.Token, error) {
	if r.create == nil {
		out := *t
		out.ID = "tok-1"
		return &out, nil
	}
	return r.create(ctx, t)
}

func (r *fakeTokenRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Token, error) {
	if r.listByUser == nil {
		return nil, nil
	}
	return r.listByUser(ctx, userID)
}

func (r *fakeTokenRepo) Delete(ctx context.Context, id, userID string) error {
	if r.deleteToken == nil {
		return nil
	}
	return r.deleteToken(ctx, id, userID)
}

func (r *fakeTokenRepo) CountByUserSource(ctx context.Context, userID string, source domain.Source) (int, error) {
	if r.countByUserSource == nil {
		return 1, nil
	}
	return r.countByUserSource(ctx, userID, source)
}

func (r *fakeTokenRepo) FirstReadyForJob(context.Context, string) (*domain.Token, error) {
	return nil, domain.ErrTokenNotFound
}
func (r *fakeTokenRepo) Delay(context.Context, string, time.Time) error { return nil }

type fakeIntentionRepo struct {
	getOrCreate  func(ctx context.Context, kind domain.Kind, userID, repoID string) (*domain.Intention, bool, error)
	listByUser   func(ctx context.Context, userID string, kind domain.Kind) ([]*domain.Intention, error)
	listArchived func(ctx context.Context, input repository.ListArchivedInput) ([]*domain.ArchivedIntention, error)
}

func (r *fakeIntentionRepo) UsersWithReady(context.Context, int) ([]string, error) { return nil, nil }
func (r *fakeIntentionRepo) Selectable(context.Context, string, domain.Kind, int) ([]*domain.Intention, error) {
	return nil, nil
}
func (r *fakeIntentionRepo) Coalesce(context.Context, string) (*domain.Job, error) { return nil, nil }
func (r *fakeIntentionRepo) CreateJob(context.Context, string, string) (*domain.Job, error) {
	return nil, nil
}
func (r *fakeIntentionRepo) NextJob(context.Context, domain.Kind, string) (*repository.BoundJob, error) {
	return nil, nil
}
func (r *fakeIntentionRepo) AddPrevious(context.Context, string, string) error { return nil }

func (r *fakeIntentionRepo) GetOrCreate(ctx context.Context, kind domain.Kind, userID, repoID string) (*domain.Intention, bool, error) {
	if r.getOrCreate == nil {
		return &domain.Intention{ID: "in-" + string(kind), Kind: kind, UserID: userID, RepoID: repoID}, true, nil
	}
	return r.getOrCreate(ctx, kind, userID, repoID)
}

func (r *fakeIntentionRepo) ListByUser(ctx context.Context, userID string, kind domain.Kind) ([]*domain.Intention, error) {
	if r.listByUser == nil {
		return nil, nil
	}
	return r.listByUser(ctx, userID, kind)
}

func (r *fakeIntentionRepo) ListArchived(ctx context.Context, input repository.ListArchivedInput) ([]*domain.ArchivedIntention, error) {
	if r.listArchived == nil {
		return nil, nil
	}
	return r.listArchived(ctx, input)
}

type fakeTargetRepo struct{}

func (r *fakeTargetRepo) GetOrCreateGitRepo(_ context.Context, url string) (*domain.GitRepo, error) {
	return &domain.GitRepo{ID: "repo-git", URL: url}, nil
}
func (r *fakeTargetRepo) GetOrCreateGitHubRepo(_ context.Context, owner, repo, instanceID string) (*domain.GitHubRepo, error) {
	return &domain.GitHubRepo{ID: "repo-gh", Owner: owner, Repo: repo, InstanceID: instanceID}, nil
}
func (r *fakeTargetRepo) GetOrCreateGitLabRepo(_ context.Context, owner, repo, instanceID string) (*domain.GitLabRepo, error) {
	return &domain.GitLabRepo{ID: "repo-gl", Owner: owner, Repo: repo, InstanceID: instanceID}, nil
}
func (r *fakeTargetRepo) GetOrCreateMeetupGroup(_ context.Context, name string) (*domain.MeetupGroup, error) {
	return &domain.MeetupGroup{ID: "repo-mu", Name: name}, nil
}
func (r *fakeTargetRepo) FindInstance(_ context.Context, source domain.Source, name string) (*domain.Instance, error) {
	return &domain.Instance{ID: "inst-" + string(source), Source: source, Name: name}, nil
}
func (r *fakeTargetRepo) DescribeURL(_ context.Context, _ domain.Kind, repoID string) (string, error) {
	return "https://example.com/" + repoID, nil
}

type fakeScheduledRepo struct {
	create      func(ctx context.Context, s *domain.ScheduledIntention) (*domain.ScheduledIntention, error)
	listByUser  func(ctx context.Context, userID string) ([]*domain.ScheduledIntention, error)
	deleteSched func(ctx context.Context, id, userID string) error
}

func (r *fakeScheduledRepo) Create(ctx context.Context, s *domain.ScheduledIntention) (*domain.ScheduledIntention, error) {
	if r.create == nil {
		out := *s
		out.ID = "sched-1"
		return &out, nil
	}
	return r.create(ctx, s)
}

func (r *fakeScheduledRepo) ListByUser(ctx context.Context, userID string) ([]*domain.ScheduledIntention, error) {
	if r.listByUser == nil {
		return nil, nil
	}
	return r.listByUser(ctx, userID)
}

func (r *fakeScheduledRepo) Delete(ctx context.Context, id, userID string) error {
	if r.deleteSched == nil {
		return nil
	}
	return r.deleteSched(ctx, id, userID)
}

func (r *fakeScheduledRepo) ClaimDue(context.Context, string) ([]*domain.ScheduledIntention, error) {
	return nil, nil
}
func (r *fakeScheduledRepo) Children(context.Context, string, string) ([]*domain.ScheduledIntention, error) {
	return nil, nil
}
func (r *fakeScheduledRepo) Advance(context.Context, string, *time.Time) error { return nil }
func (r *fakeScheduledRepo) ReleaseAll(context.Context, string) error          { return nil }
