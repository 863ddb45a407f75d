// Package api holds the intention-creation entry points: one call per data
// source that provisions the target and queues its raw+enrich pipeline.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/repository"
)

// Instance names seeded by the migrations. Self-hosted instances keep their
// own rows but the public endpoints are the default target.
const (
	githubInstanceName = "GitHub"
	gitlabInstanceName = "GitLab"
)

const (
	enrichRetryMax = 10
	enrichRetryCap = 30 * time.Second
)

// Pipeline is what one analyze call queued: the raw intention plus the
// enrich intention that runs after it.
type Pipeline struct {
	RepoID string
	Raw    *domain.Intention
	Enrich *domain.Intention
}

// Analyzer creates intentions on behalf of API users.
type Analyzer struct {
	intentions repository.IntentionRepository
	tokens     repository.TokenRepository
	targets    repository.TargetRepository
	logger     *slog.Logger
}

func NewAnalyzer(
	intentions repository.IntentionRepository,
	tokens repository.TokenRepository,
	targets repository.TargetRepository,
	logger *slog.Logger,
) *Analyzer {
	return &Analyzer{
		intentions: intentions,
		tokens:     tokens,
		targets:    targets,
		logger:     logger.With("component", "analyzer"),
	}
}

// AnalyzeGitRepo queues gathering and enrichment of one git repository.
// Git needs no API token, so any user may call it.
func (a *Analyzer) AnalyzeGitRepo(ctx context.Context, userID, url string) (*Pipeline, error) {
	return a.analyze(ctx, userID, domain.KindGitRaw, domain.TargetArgs{URL: url})
}

// AnalyzeGitHubRepo queues the GitHub pipeline for owner/repo. The user
// must already own at least one GitHub token or domain.ErrNoToken comes
// back and nothing is created.
func (a *Analyzer) AnalyzeGitHubRepo(ctx context.Context, userID, owner, repo string) (*Pipeline, error) {
	return a.analyze(ctx, userID, domain.KindGitHubRaw, domain.TargetArgs{Owner: owner, Repo: repo})
}

// AnalyzeGitLabRepo queues the GitLab pipeline for owner/repo, gated on the
// user owning a GitLab token.
func (a *Analyzer) AnalyzeGitLabRepo(ctx context.Context, userID, owner, repo string) (*Pipeline, error) {
	return a.analyze(ctx, userID, domain.KindGitLabRaw, domain.TargetArgs{Owner: owner, Repo: repo})
}

// AnalyzeMeetupGroup queues the Meetup pipeline for a group, gated on the
// user owning a Meetup token.
func (a *Analyzer) AnalyzeMeetupGroup(ctx context.Context, userID, group string) (*Pipeline, error) {
	return a.analyze(ctx, userID, domain.KindMeetupRaw, domain.TargetArgs{Group: group})
}

func (a *Analyzer) analyze(ctx context.Context, userID string, rawKind domain.Kind, args domain.TargetArgs) (*Pipeline, error) {
	if rawKind.NeedsToken() {
		n, err := a.tokens.CountByUserSource(ctx, userID, rawKind.Source())
		if err != nil {
			return nil, fmt.Errorf("count %s tokens: %w", rawKind.Source(), err)
		}
		if n == 0 {
			return nil, domain.ErrNoToken
		}
	}

	repoID, err := EnsureTarget(ctx, a.targets, rawKind, args)
	if err != nil {
		return nil, err
	}

	raw, created, err := a.intentions.GetOrCreate(ctx, rawKind, userID, repoID)
	if err != nil {
		return nil, fmt.Errorf("ensure %s intention: %w", rawKind, err)
	}
	if created {
		a.logger.Info("intention created", "kind", string(rawKind), "user_id", userID, "repo_id", repoID)
	}

	enrich, err := a.ensureEnrich(ctx, rawKind.EnrichKind(), userID, repoID)
	if err != nil {
		return nil, err
	}
	if err := a.intentions.AddPrevious(ctx, enrich.ID, raw.ID); err != nil {
		return nil, fmt.Errorf("chain %s after %s: %w", enrich.Kind, raw.Kind, err)
	}

	return &Pipeline{RepoID: repoID, Raw: raw, Enrich: enrich}, nil
}

// ensureEnrich retries transient store errors on the enrich row. Creating
// it back-to-back with the raw row can collide with a concurrent archive of
// the same pipeline, which surfaces as a serialization failure rather than
// a conflict on the unique key.
func (a *Analyzer) ensureEnrich(ctx context.Context, kind domain.Kind, userID, repoID string) (*domain.Intention, error) {
	deadline := time.Now().Add(enrichRetryCap)
	var lastErr error
	for attempt := 0; attempt < enrichRetryMax && time.Now().Before(deadline); attempt++ {
		enrich, created, err := a.intentions.GetOrCreate(ctx, kind, userID, repoID)
		if err == nil {
			if created {
				a.logger.Info("intention created", "kind", string(kind), "user_id", userID, "repo_id", repoID)
			}
			return enrich, nil
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("ensure %s intention: %w", kind, err)
		}
		lastErr = err
		a.logger.Warn("transient store error, retrying", "kind", string(kind), "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("ensure %s intention: %w", kind, lastErr)
}

// EnsureTarget provisions the target row an intention of the given kind
// points at and returns its id. Shared with the scheduled-intention
// materializer, which carries target parameters instead of a repo id.
func EnsureTarget(ctx context.Context, targets repository.TargetRepository, kind domain.Kind, args domain.TargetArgs) (string, error) {
	if err := args.Validate(kind); err != nil {
		return "", err
	}

	switch kind.Source() {
	case domain.SourceGit:
		r, err := targets.GetOrCreateGitRepo(ctx, args.URL)
		if err != nil {
			return "", fmt.Errorf("ensure git repo: %w", err)
		}
		return r.ID, nil

	case domain.SourceGitHub:
		inst, err := targets.FindInstance(ctx, domain.SourceGitHub, githubInstanceName)
		if err != nil {
			return "", fmt.Errorf("resolve github instance: %w", err)
		}
		r, err := targets.GetOrCreateGitHubRepo(ctx, args.Owner, args.Repo, inst.ID)
		if err != nil {
			return "", fmt.Errorf("ensure github repo: %w", err)
		}
		return r.ID, nil

	case domain.SourceGitLab:
		inst, err := targets.FindInstance(ctx, domain.SourceGitLab, gitlabInstanceName)
		if err != nil {
			return "", fmt.Errorf("resolve gitlab instance: %w", err)
		}
		r, err := targets.GetOrCreateGitLabRepo(ctx, args.Owner, args.Repo, inst.ID)
		if err != nil {
			return "", fmt.Errorf("ensure gitlab repo: %w", err)
		}
		return r.ID, nil

	default:
		g, err := targets.GetOrCreateMeetupGroup(ctx, args.Group)
		if err != nil {
			return "", fmt.Errorf("ensure meetup group: %w", err)
		}
		return g.ID, nil
	}
}

// isTransient reports whether err is a store error worth retrying: a
// serialization or deadlock rollback, or a store-internal error.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgerrcode.IsTransactionRollback(pgErr.Code) || pgerrcode.IsInternalError(pgErr.Code)
}
