package usecase

import (
	"context"
	"fmt"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/repository"
)

type TokenUsecase struct {
	tokens repository.TokenRepository
}

func NewTokenUsecase(tokens repository.TokenRepository) *TokenUsecase {
	return &TokenUsecase{tokens: tokens}
}

type RegisterTokenInput struct {
	UserID        string
	Source        string
	Secret        string
	RefreshSecret *string
}

// RegisterToken stores an API credential for a token-backed source. The
// token is ready immediately; rate-limit hits push its reset time out later.
func (u *TokenUsecase) RegisterToken(ctx context.Context, input RegisterTokenInput) (*domain.Token, error) {
	source := domain.Source(input.Source)
	if source.MaxJobsPerToken() == 0 {
		return nil, domain.ErrTokenlessSource
	}

	created, err := u.tokens.Create(ctx, &domain.Token{
		Source:        source,
		UserID:        input.UserID,
		Secret:        input.Secret,
		RefreshSecret: input.RefreshSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return created, nil
}

func (u *TokenUsecase) ListTokens(ctx context.Context, userID string) ([]*domain.Token, error) {
	tokens, err := u.tokens.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

func (u *TokenUsecase) DeleteToken(ctx context.Context, id, userID string) error {
	if err := u.tokens.Delete(ctx, id, userID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
