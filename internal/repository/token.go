package repository

import (
	"context"
	"time"

	"github.com/cauldronio/poolsched/internal/domain"
)

type TokenRepository interface {
	Create(ctx context.Context, t *domain.Token) (*domain.Token, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Token, error)
	CountByUserSource(ctx context.Context, userID string, source domain.Source) (int, error)
	Delete(ctx context.Context, id, userID string) error

	// FirstReadyForJob returns a ready token attached to the job, or
	// domain.ErrTokenNotFound if none has cooled down yet.
	FirstReadyForJob(ctx context.Context, jobID string) (*domain.Token, error)

	// Delay pushes the token's reset time out after a rate-limit hit.
	Delay(ctx context.Context, tokenID string, until time.Time) error
}
