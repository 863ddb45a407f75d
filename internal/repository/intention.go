package repository

import (
	"context"
	"time"

	"github.com/cauldronio/poolsched/internal/domain"
)

// BoundJob is a job together with one of the intentions bound to it, which
// carries the kind and target the executor needs.
type BoundJob struct {
	Job       *domain.Job
	Intention *domain.Intention
}

type ListArchivedInput struct {
	UserID     string
	Kind       domain.Kind // empty = all kinds
	CursorTime *time.Time  // cursor on (completed_at DESC, id DESC)
	CursorID   string
	Limit      int
}

type IntentionRepository interface {
	// Dispatcher queue scan. UsersWithReady returns up to max distinct
	// users owning at least one unbound intention with no pending
	// prerequisites, in random order. Selectable returns that user's
	// admittable intentions of one kind, oldest first; for token-backed
	// kinds the result is empty unless the user owns a ready token with
	// spare capacity.
	UsersWithReady(ctx context.Context, max int) ([]string, error)
	Selectable(ctx context.Context, userID string, kind domain.Kind, max int) ([]*domain.Intention, error)

	// Coalesce binds the intention to an existing job for the same kind
	// and target, if one exists. For token-backed kinds it then attaches
	// the user's spare-capacity tokens to that job. Returns the job only
	// when the bind is fully usable (nil, nil when there is no sibling
	// job, or no token could be attached).
	Coalesce(ctx context.Context, intentionID string) (*domain.Job, error)

	// CreateJob admits the intention: lock it NOWAIT, create a job owned
	// by workerID and bind the intention to it. For token-backed kinds
	// the job is only created if a spare-capacity token exists, and every
	// such token is attached. Locked-by-someone-else and already-bound
	// both come back as (nil, nil).
	CreateJob(ctx context.Context, intentionID, workerID string) (*domain.Job, error)

	// NextJob claims an unowned resumable job of the given kind, skipping
	// locked rows. Token-backed kinds only consider jobs holding at least
	// one ready token. (nil, nil) when nothing is resumable.
	NextJob(ctx context.Context, kind domain.Kind, workerID string) (*BoundJob, error)

	// GetOrCreate is race-safe on the (kind, user, repo) unique key. The
	// bool reports whether the row was created by this call.
	GetOrCreate(ctx context.Context, kind domain.Kind, userID, repoID string) (*domain.Intention, bool, error)
	AddPrevious(ctx context.Context, intentionID, previousID string) error

	ListByUser(ctx context.Context, userID string, kind domain.Kind) ([]*domain.Intention, error)
	ListArchived(ctx context.Context, input ListArchivedInput) ([]*domain.ArchivedIntention, error)
}
