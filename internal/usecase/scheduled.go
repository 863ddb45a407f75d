package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/repository"
)

type ScheduleUsecase struct {
	scheduled repository.ScheduledIntentionRepository
}

func NewScheduleUsecase(scheduled repository.ScheduledIntentionRepository) *ScheduleUsecase {
	return &ScheduleUsecase{scheduled: scheduled}
}

type CreateScheduledInput struct {
	UserID      string
	Kind        string
	Args        domain.TargetArgs
	ScheduledAt *time.Time
	DependsOnID *string
	RepeatHours *int
	CronExpr    *string
}

// CreateScheduled registers a future or periodic intention creation. A row
// is either timed (scheduled_at or a cron expression) or dependent
// (depends_on), never both; repeat_hours only makes sense on plainly timed
// rows since cron carries its own recurrence.
func (u *ScheduleUsecase) CreateScheduled(ctx context.Context, input CreateScheduledInput) (*domain.ScheduledIntention, error) {
	kind, err := domain.ParseKind(input.Kind)
	if err != nil {
		return nil, err
	}
	if err := input.Args.Validate(kind); err != nil {
		return nil, err
	}

	hasCron := input.CronExpr != nil && *input.CronExpr != ""
	timed := input.ScheduledAt != nil || hasCron
	dependent := input.DependsOnID != nil && *input.DependsOnID != ""
	if timed == dependent {
		return nil, domain.ErrInvalidSchedule
	}
	if input.RepeatHours != nil && (*input.RepeatHours < 0 || dependent || hasCron) {
		return nil, domain.ErrInvalidSchedule
	}

	scheduledAt := input.ScheduledAt
	var cronExpr *string
	if hasCron {
		sched, err := cron.ParseStandard(*input.CronExpr)
		if err != nil {
			return nil, domain.ErrInvalidCronExpr
		}
		cronExpr = input.CronExpr
		if scheduledAt == nil {
			next := sched.Next(time.Now())
			scheduledAt = &next
		}
	}

	created, err := u.scheduled.Create(ctx, &domain.ScheduledIntention{
		Kind:        kind,
		Args:        input.Args,
		UserID:      input.UserID,
		ScheduledAt: scheduledAt,
		DependsOnID: input.DependsOnID,
		RepeatHours: input.RepeatHours,
		CronExpr:    cronExpr,
	})
	if err != nil {
		return nil, fmt.Errorf("create scheduled intention: %w", err)
	}
	return created, nil
}

func (u *ScheduleUsecase) ListScheduled(ctx context.Context, userID string) ([]*domain.ScheduledIntention, error) {
	rows, err := u.scheduled.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list scheduled intentions: %w", err)
	}
	return rows, nil
}

func (u *ScheduleUsecase) DeleteScheduled(ctx context.Context, id, userID string) error {
	if err := u.scheduled.Delete(ctx, id, userID); err != nil {
		return fmt.Errorf("delete scheduled intention: %w", err)
	}
	return nil
}
