package sched_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/repository"
	"github.com/cauldronio/poolsched/internal/runner"
)

// Function-field fakes with quiet defaults: an unset field behaves like an
// empty store, so each test wires only the calls it cares about.

type fakeWorkerRepo struct {
	register   func(ctx context.Context, hostname string) (*domain.Worker, error)
	heartbeat  func(ctx context.Context, workerID string) error
	deregister func(ctx context.Context, workerID string) error
	countUp    func(ctx context.Context) (int, error)
	sweepStale func(ctx context.Context, cutoff time.Time) (int, int, error)
}

func (r *fakeWorkerRepo) Register(ctx context.Context, hostname string) (*domain.Worker, error) {
	if r.register == nil {
		return &domain.Worker{ID: "worker-1", Hostname: hostname, Status: domain.WorkerUp}, nil
	}
	return r.register(ctx, hostname)
}

func (r *fakeWorkerRepo) Heartbeat(ctx context.Context, workerID string) error {
	if r.heartbeat == nil {
		return nil
	}
	return r.heartbeat(ctx, workerID)
}

func (r *fakeWorkerRepo) Deregister(ctx context.Context, workerID string) error {
	if r.deregister == nil {
		return nil
	}
	return r.deregister(ctx, workerID)
}

func (r *fakeWorkerRepo) CountUp(ctx context.Context) (int, error) {
	if r.countUp == nil {
		return 1, nil
	}
	return r.countUp(ctx)
}

func (r *fakeWorkerRepo) SweepStale(ctx context.Context, cutoff time.Time) (int, int, error) {
	if r.sweepStale == nil {
		return 0, 0, nil
	}
	return r.sweepStale(ctx, cutoff)
}

type fakeJobRepo struct {
	countClaimed func(ctx context.Context) (int, error)
	ensureLog    func(ctx context.Context, jobID, location string) (*domain.Log, error)
	release      func(ctx context.Context, jobID, workerID string) error
	archive      func(ctx context.Context, jobID string, status domain.ArchStatus) (*domain.ArchJob, error)
}

func (r *fakeJobRepo) CountClaimed(ctx context.Context) (int, error) {
	if r.countClaimed == nil {
		return 0, nil
	}
	return r.countClaimed(ctx)
}

func (r *fakeJobRepo) EnsureLog(ctx context.Context, jobID, location string) (*domain.Log, error) {
	if r.ensureLog == nil {
		return &domain.Log{ID: "log-1", Location: location}, nil
	}
	return r.ensureLog(ctx, jobID, location)
}

func (r *fakeJobRepo) Release(ctx context.Context, jobID, workerID string) error {
	if r.release == nil {
		return nil
	}
	return r.release(ctx, jobID, workerID)
}

func (r *fakeJobRepo) Archive(ctx context.Context, jobID string, status domain.ArchStatus) (*domain.ArchJob, error) {
	if r.archive == nil {
		return &domain.ArchJob{ID: "arch-1"}, nil
	}
	return r.archive(ctx, jobID, status)
}

type fakeIntentionRepo struct {
	usersWithReady func(ctx context.Context, max int) ([]string, error)
	selectable     func(ctx context.Context, userID string, kind domain.Kind, max int) ([]*domain.Intention, error)
	coalesce       func(ctx context.Context, intentionID string) (*domain.Job, error)
	createJob      func(ctx context.Context, intentionID, workerID string) (*domain.Job, error)
	nextJob        func(ctx context.Context, kind domain.Kind, workerID string) (*repository.BoundJob, error)
	getOrCreate    func(ctx context.Context, kind domain.Kind, userID, repoID string) (*domain.Intention, bool, error)
	addPrevious    func(ctx context.Context, intentionID, previousID string) error
	listByUser     func(ctx context.Context, userID string, kind domain.Kind) ([]*domain.Intention, error)
	listArchived   func(ctx context.Context, input repository.ListArchivedInput) ([]*domain.ArchivedIntention, error)
}

func (r *fakeIntentionRepo) UsersWithReady(ctx context.Context, max int) ([]string, error) {
	if r.usersWithReady == nil {
		return nil, nil
	}
	return r.usersWithReady(ctx, max)
}

func (r *fakeIntentionRepo) Selectable(ctx context.Context, userID string, kind domain.Kind, max int) ([]*domain.Intention, error) {
	if r.selectable == nil {
		return nil, nil
	}
	return r.selectable(ctx, userID, kind, max)
}

func (r *fakeIntentionRepo) Coalesce(ctx context.Context, intentionID string) (*domain.Job, error) {
	if r.coalesce == nil {
		return nil, nil
	}
	return r.coalesce(ctx, intentionID)
}

func (r *fakeIntentionRepo) CreateJob(ctx context.Context, intentionID, workerID string) (*domain.Job, error) {
	if r.createJob == nil {
		return nil, nil
	}
	return r.createJob(ctx, intentionID, workerID)
}

func (r *fakeIntentionRepo) NextJob(ctx context.Context, kind domain.Kind, workerID string) (*repository.BoundJob, error) {
	if r.nextJob == nil {
		return nil, nil
	}
	return r.nextJob(ctx, kind, workerID)
}

func (r *fakeIntentionRepo) GetOrCreate(ctx context.Context, kind domain.Kind, userID, repoID string) (*domain.Intention, bool, error) {
	if r.getOrCreate == nil {
		return &domain.Intention{ID: "in-" + string(kind), Kind: kind, UserID: userID, RepoID: repoID}, true, nil
	}
	return r.getOrCreate(ctx, kind, userID, repoID)
}

func (r *fakeIntentionRepo) AddPrevious(ctx context.Context, intentionID, previousID string) error {
	if r.addPrevious == nil {
		return nil
	}
	return r.addPrevious(ctx, intentionID, previousID)
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

type fakeTokenRepo struct {
	create            func(ctx context.Context, t *domain.Token) (*domain.Token, error)
	listByUser        func(ctx context.Context, userID string) ([]*domain.Token, error)
	countByUserSource func(ctx context.Context, userID string, source domain.Source) (int, error)
	deleteToken       func(ctx context.Context, id, userID string) error
	firstReadyForJob  func(ctx context.Context, jobID string) (*domain.Token, error)
	delay             func(ctx context.Context, tokenID string, until time.Time) error
}

func (r *fakeTokenRepo) Create(ctx context.Context, t *domain.Token) (*domain.Token, error) {
	if r.create == nil {
		return t, nil
	}
	return r.create(ctx, t)
}

func (r *fakeTokenRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Token, error) {
	if r.listByUser == nil {
		return nil, nil
	}
	return r.listByUser(ctx, userID)
}

func (r *fakeTokenRepo) CountByUserSource(ctx context.Context, userID string, source domain.Source) (int, error) {
	if r.countByUserSource == nil {
		return 0, nil
	}
	return r.countByUserSource(ctx, userID, source)
}

func (r *fakeTokenRepo) Delete(ctx context.Context, id, userID string) error {
	if r.deleteToken == nil {
		return nil
	}
	return r.deleteToken(ctx, id, userID)
}

func (r *fakeTokenRepo) FirstReadyForJob(ctx context.Context, jobID string) (*domain.Token, error) {
	if r.firstReadyForJob == nil {
		return nil, domain.ErrTokenNotFound
	}
	return r.firstReadyForJob(ctx, jobID)
}

func (r *fakeTokenRepo) Delay(ctx context.Context, tokenID string, until time.Time) error {
	if r.delay == nil {
		return nil
	}
	return r.delay(ctx, tokenID, until)
}

type fakeScheduledRepo struct {
	create      func(ctx context.Context, s *domain.ScheduledIntention) (*domain.ScheduledIntention, error)
	listByUser  func(ctx context.Context, userID string) ([]*domain.ScheduledIntention, error)
	deleteSched func(ctx context.Context, id, userID string) error
	claimDue    func(ctx context.Context, workerID string) ([]*domain.ScheduledIntention, error)
	children    func(ctx context.Context, parentID, workerID string) ([]*domain.ScheduledIntention, error)
	advance     func(ctx context.Context, id string, next *time.Time) error
	releaseAll  func(ctx context.Context, workerID string) error
}

func (r *fakeScheduledRepo) Create(ctx context.Context, s *domain.ScheduledIntention) (*domain.ScheduledIntention, error) {
	if r.create == nil {
		return s, nil
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

func (r *fakeScheduledRepo) ClaimDue(ctx context.Context, workerID string) ([]*domain.ScheduledIntention, error) {
	if r.claimDue == nil {
		return nil, nil
	}
	return r.claimDue(ctx, workerID)
}

func (r *fakeScheduledRepo) Children(ctx context.Context, parentID, workerID string) ([]*domain.ScheduledIntention, error) {
	if r.children == nil {
		return nil, nil
	}
	return r.children(ctx, parentID, workerID)
}

func (r *fakeScheduledRepo) Advance(ctx context.Context, id string, next *time.Time) error {
	if r.advance == nil {
		return nil
	}
	return r.advance(ctx, id, next)
}

func (r *fakeScheduledRepo) ReleaseAll(ctx context.Context, workerID string) error {
	if r.releaseAll == nil {
		return nil
	}
	return r.releaseAll(ctx, workerID)
}

type fakeTargetRepo struct {
	getOrCreateGitRepo    func(ctx context.Context, url string) (*domain.GitRepo, error)
	getOrCreateGitHubRepo func(ctx context.Context, owner, repo, instanceID string) (*domain.GitHubRepo, error)
	getOrCreateGitLabRepo func(ctx context.Context, owner, repo, instanceID string) (*domain.GitLabRepo, error)
	getOrCreateMeetup     func(ctx context.Context, name string) (*domain.MeetupGroup, error)
	findInstance          func(ctx context.Context, source domain.Source, name string) (*domain.Instance, error)
	describeURL           func(ctx context.Context, kind domain.Kind, repoID string) (string, error)
}

func (r *fakeTargetRepo) GetOrCreateGitRepo(ctx context.Context, url string) (*domain.GitRepo, error) {
	if r.getOrCreateGitRepo == nil {
		return &domain.GitRepo{ID: "repo-git", URL: url}, nil
	}
	return r.getOrCreateGitRepo(ctx, url)
}

func (r *fakeTargetRepo) GetOrCreateGitHubRepo(ctx context.Context, owner, repo, instanceID string) (*domain.GitHubRepo, error) {
	if r.getOrCreateGitHubRepo == nil {
		return &domain.GitHubRepo{ID: "repo-gh", Owner: owner, Repo: repo, InstanceID: instanceID}, nil
	}
	return r.getOrCreateGitHubRepo(ctx, owner, repo, instanceID)
}

func (r *fakeTargetRepo) GetOrCreateGitLabRepo(ctx context.Context, owner, repo, instanceID string) (*domain.GitLabRepo, error) {
	if r.getOrCreateGitLabRepo == nil {
		return &domain.GitLabRepo{ID: "repo-gl", Owner: owner, Repo: repo, InstanceID: instanceID}, nil
	}
	return r.getOrCreateGitLabRepo(ctx, owner, repo, instanceID)
}

func (r *fakeTargetRepo) GetOrCreateMeetupGroup(ctx context.Context, name string) (*domain.MeetupGroup, error) {
	if r.getOrCreateMeetup == nil {
		return &domain.MeetupGroup{ID: "repo-mu", Name: name}, nil
	}
	return r.getOrCreateMeetup(ctx, name)
}

func (r *fakeTargetRepo) FindInstance(ctx context.Context, source domain.Source, name string) (*domain.Instance, error) {
	if r.findInstance == nil {
		return &domain.Instance{ID: "inst-" + string(source), Source: source, Name: name}, nil
	}
	return r.findInstance(ctx, source, name)
}

func (r *fakeTargetRepo) DescribeURL(ctx context.Context, kind domain.Kind, repoID string) (string, error) {
	if r.describeURL == nil {
		return "https://example.com/" + repoID, nil
	}
	return r.describeURL(ctx, kind, repoID)
}

type fakeRunner struct {
	run func(ctx context.Context, task runner.Task, out io.Writer) (runner.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, task runner.Task, out io.Writer) (runner.Result, error) {
	if f.run == nil {
		return runner.Result{}, nil
	}
	return f.run(ctx, task, out)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv bundles one fake of everything a worker touches.
type testEnv struct {
	workers    *fakeWorkerRepo
	jobs       *fakeJobRepo
	intentions *fakeIntentionRepo
	tokens     *fakeTokenRepo
	scheduled  *fakeScheduledRepo
	targets    *fakeTargetRepo
	runner     *fakeRunner
}

func newEnv() *testEnv {
	return &testEnv{
		workers:    &fakeWorkerRepo{},
		jobs:       &fakeJobRepo{},
		intentions: &fakeIntentionRepo{},
		tokens:     &fakeTokenRepo{},
		scheduled:  &fakeScheduledRepo{},
		targets:    &fakeTargetRepo{},
		runner:     &fakeRunner{},
	}
}

func boundJob(id string, kind domain.Kind) *repository.BoundJob {
	workerID := "worker-1"
	return &repository.BoundJob{
		Job: &domain.Job{ID: id, WorkerID: &workerID},
		Intention: &domain.Intention{
			ID:     "in-" + id,
			Kind:   kind,
			UserID: "user-a",
			RepoID: "repo-1",
			JobID:  &id,
		},
	}
}
