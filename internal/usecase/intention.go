package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/repository"
)

type IntentionUsecase struct {
	intentions repository.IntentionRepository
}

func NewIntentionUsecase(intentions repository.IntentionRepository) *IntentionUsecase {
	return &IntentionUsecase{intentions: intentions}
}

// ListPending returns the user's live intentions, newest first, optionally
// filtered to one kind. Pending sets stay small (rows are deleted on
// archival), so this list is not paginated.
func (u *IntentionUsecase) ListPending(ctx context.Context, userID, kind string) ([]*domain.Intention, error) {
	var k domain.Kind
	if kind != "" {
		parsed, err := domain.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		k = parsed
	}

	ins, err := u.intentions.ListByUser(ctx, userID, k)
	if err != nil {
		return nil, fmt.Errorf("list intentions: %w", err)
	}
	return ins, nil
}

type ListArchivedInput struct {
	UserID string
	Kind   string
	Cursor string
	Limit  int
}

type ListArchivedResult struct {
	Intentions []*domain.ArchivedIntention
	NextCursor *string
}

type archivedCursor struct {
	CompletedAt time.Time `json:"c"`
	ID          string    `json:"i"`
}

func decodeArchivedCursor(s string) (*time.Time, string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, "", fmt.Errorf("decode cursor: %w", err)
	}
	var c archivedCursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, "", fmt.Errorf("unmarshal cursor: %w", err)
	}
	return &c.CompletedAt, c.ID, nil
}

func encodeArchivedCursor(completedAt time.Time, id string) string {
	b, _ := json.Marshal(archivedCursor{CompletedAt: completedAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(b)
}

// ListArchived pages through the user's archival history, most recently
// completed first.
func (u *IntentionUsecase) ListArchived(ctx context.Context, input ListArchivedInput) (ListArchivedResult, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	repoInput := repository.ListArchivedInput{
		UserID: input.UserID,
		Limit:  limit + 1,
	}

	if input.Kind != "" {
		kind, err := domain.ParseKind(input.Kind)
		if err != nil {
			return ListArchivedResult{}, err
		}
		repoInput.Kind = kind
	}
	if input.Cursor != "" {
		cursorTime, cursorID, err := decodeArchivedCursor(input.Cursor)
		if err != nil {
			return ListArchivedResult{}, domain.ErrBadCursor
		}
		repoInput.CursorTime = cursorTime
		repoInput.CursorID = cursorID
	}

	archived, err := u.intentions.ListArchived(ctx, repoInput)
	if err != nil {
		return ListArchivedResult{}, fmt.Errorf("list archived intentions: %w", err)
	}

	var nextCursor *string
	if len(archived) == limit+1 {
		archived = archived[:limit]
		// The cursor names the last row shown; the next page starts
		// strictly after it.
		last := archived[limit-1]
		s := encodeArchivedCursor(last.CompletedAt, last.ID)
		nextCursor = &s
	}

	return ListArchivedResult{Intentions: archived, NextCursor: nextCursor}, nil
}
