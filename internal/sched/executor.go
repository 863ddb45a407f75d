package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/repository"
	"github.com/cauldronio/poolsched/internal/runner"
)

// Outcome is what running a job produced. Exactly one of the failure
// shapes applies: Err for hard failures, RetryMinutes for an exhausted
// token. TokenID names the token the run held, when the kind needs one.
type Outcome struct {
	TokenID      string
	RetryMinutes int
	Err          error
}

// Executor turns a claimed job into a task invocation: resolve the target,
// pick a ready token, open the job's log file and hand everything to the
// task runner.
type Executor struct {
	targets repository.TargetRepository
	tokens  repository.TokenRepository
	jobs    repository.JobRepository
	runner  runner.TaskRunner
	logsDir string
	logger  *slog.Logger
}

func NewExecutor(
	targets repository.TargetRepository,
	tokens repository.TokenRepository,
	jobs repository.JobRepository,
	taskRunner runner.TaskRunner,
	logsDir string,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		targets: targets,
		tokens:  tokens,
		jobs:    jobs,
		runner:  taskRunner,
		logsDir: logsDir,
		logger:  logger.With("component", "executor"),
	}
}

func (e *Executor) Execute(ctx context.Context, bj *repository.BoundJob) Outcome {
	in := bj.Intention

	url, err := e.targets.DescribeURL(ctx, in.Kind, in.RepoID)
	if err != nil {
		return Outcome{Err: fmt.Errorf("resolve target: %w", err)}
	}

	task := runner.Task{Kind: in.Kind, URL: url}
	var tokenID string
	if in.Kind.NeedsToken() {
		// Admission only checked capacity; readiness is checked here,
		// right before spending quota.
		tok, err := e.tokens.FirstReadyForJob(ctx, bj.Job.ID)
		if err != nil {
			if errors.Is(err, domain.ErrTokenNotFound) {
				return Outcome{Err: domain.ErrNoReadyToken}
			}
			return Outcome{Err: fmt.Errorf("pick token: %w", err)}
		}
		task.Token = tok.Secret
		tokenID = tok.ID
	}

	logRec, err := e.jobs.EnsureLog(ctx, bj.Job.ID, bj.Job.ID+".log")
	if err != nil {
		return Outcome{TokenID: tokenID, Err: fmt.Errorf("ensure job log: %w", err)}
	}
	f, err := os.OpenFile(filepath.Join(e.logsDir, logRec.Location),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Outcome{TokenID: tokenID, Err: fmt.Errorf("open job log: %w", err)}
	}
	defer f.Close()

	e.logger.Info("executing task",
		"job_id", bj.Job.ID,
		"kind", string(in.Kind),
		"url", url,
	)

	res, err := e.runner.Run(ctx, task, f)
	if err != nil {
		return Outcome{TokenID: tokenID, Err: err}
	}
	return Outcome{TokenID: tokenID, RetryMinutes: res.RetryMinutes}
}
