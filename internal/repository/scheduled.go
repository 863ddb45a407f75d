package repository

import (
	"context"
	"time"

	"github.com/cauldronio/poolsched/internal/domain"
)

type ScheduledIntentionRepository interface {
	Create(ctx context.Context, s *domain.ScheduledIntention) (*domain.ScheduledIntention, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.ScheduledIntention, error)
	Delete(ctx context.Context, id, userID string) error

	// ClaimDue stamps worker_id on every due unclaimed row and returns
	// them. A row is due when scheduled_at has passed; dependent rows are
	// claimed through Children instead.
	ClaimDue(ctx context.Context, workerID string) ([]*domain.ScheduledIntention, error)

	// Children claims and returns the rows depending on parentID.
	Children(ctx context.Context, parentID, workerID string) ([]*domain.ScheduledIntention, error)

	// Advance finishes a claimed row: clear worker_id and move
	// scheduled_at to next, or clear it for one-shot rows (nil next).
	Advance(ctx context.Context, id string, next *time.Time) error

	// ReleaseAll clears this worker's claims. Run at the end of every
	// materializer pass so a failed row is retried next tick.
	ReleaseAll(ctx context.Context, workerID string) error
}
