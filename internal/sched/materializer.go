package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cauldronio/poolsched/internal/api"
	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/metrics"
	"github.com/cauldronio/poolsched/internal/repository"
)

// Materializer turns due ScheduledIntention rows into live intentions at the
// start of every dispatcher tick. Dependent rows are instantiated together
// with their parent, chained so the child's intention waits on the parent's.
type Materializer struct {
	scheduled  repository.ScheduledIntentionRepository
	intentions repository.IntentionRepository
	targets    repository.TargetRepository
	logger     *slog.Logger
}

func NewMaterializer(
	scheduled repository.ScheduledIntentionRepository,
	intentions repository.IntentionRepository,
	targets repository.TargetRepository,
	logger *slog.Logger,
) *Materializer {
	return &Materializer{
		scheduled:  scheduled,
		intentions: intentions,
		targets:    targets,
		logger:     logger.With("component", "materializer"),
	}
}

// Tick claims every due row for workerID and fires them one by one. A row
// that fails is logged and left due; everything claimed is released at the
// end so another worker can pick up whatever this pass could not finish.
func (m *Materializer) Tick(ctx context.Context, workerID string) {
	due, err := m.scheduled.ClaimDue(ctx, workerID)
	if err != nil {
		m.logger.Error("claim due scheduled intentions", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	defer func() {
		if err := m.scheduled.ReleaseAll(ctx, workerID); err != nil {
			m.logger.Error("release scheduled intentions", "error", err)
		}
	}()

	for _, s := range due {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.fire(ctx, s, nil, workerID); err != nil {
			m.logger.Error("materialize scheduled intention",
				"scheduled_id", s.ID,
				"kind", string(s.Kind),
				"error", err,
			)
			continue
		}
		m.advance(ctx, s)
	}
}

// fire creates the intention a row describes and recursively fires the rows
// depending on it. prereq, when set, is the parent row's freshly created
// intention; the new intention will not be admitted until it is archived.
func (m *Materializer) fire(ctx context.Context, s *domain.ScheduledIntention, prereq *domain.Intention, workerID string) (*domain.Intention, error) {
	repoID, err := api.EnsureTarget(ctx, m.targets, s.Kind, s.Args)
	if err != nil {
		return nil, err
	}

	in, created, err := m.intentions.GetOrCreate(ctx, s.Kind, s.UserID, repoID)
	if err != nil {
		return nil, fmt.Errorf("ensure intention: %w", err)
	}
	if prereq != nil {
		if err := m.intentions.AddPrevious(ctx, in.ID, prereq.ID); err != nil {
			return nil, fmt.Errorf("chain after parent intention: %w", err)
		}
	}

	metrics.ScheduledFiredTotal.Inc()
	m.logger.Info("scheduled intention fired",
		"scheduled_id", s.ID,
		"kind", string(s.Kind),
		"intention_id", in.ID,
		"created", created,
	)

	children, err := m.scheduled.Children(ctx, s.ID, workerID)
	if err != nil {
		return nil, fmt.Errorf("claim children: %w", err)
	}
	for _, child := range children {
		if _, err := m.fire(ctx, child, in, workerID); err != nil {
			m.logger.Error("materialize dependent scheduled intention",
				"scheduled_id", child.ID,
				"parent_id", s.ID,
				"kind", string(child.Kind),
				"error", err,
			)
			continue
		}
		m.advance(ctx, child)
	}
	return in, nil
}

func (m *Materializer) advance(ctx context.Context, s *domain.ScheduledIntention) {
	next := m.nextTime(s)
	if err := m.scheduled.Advance(ctx, s.ID, next); err != nil {
		m.logger.Error("advance scheduled intention", "scheduled_id", s.ID, "error", err)
	}
}

// nextTime computes the row's next due time. Cron rows recompute from now
// and repeat rows step forward until they land in the future, so a backlog
// of missed runs collapses into one firing. A one-shot row that just fired
// goes dormant (nil); a pending future time set on a dependent row is kept.
func (m *Materializer) nextTime(s *domain.ScheduledIntention) *time.Time {
	now := time.Now()

	if s.CronExpr != nil && *s.CronExpr != "" {
		sched, err := cron.ParseStandard(*s.CronExpr)
		if err != nil {
			m.logger.Error("bad cron expression, going dormant", "scheduled_id", s.ID, "cron", *s.CronExpr, "error", err)
			return nil
		}
		next := sched.Next(now)
		return &next
	}

	if s.ScheduledAt == nil {
		return nil
	}
	if s.RepeatHours != nil && *s.RepeatHours > 0 {
		step := time.Duration(*s.RepeatHours) * time.Hour
		next := *s.ScheduledAt
		for !next.After(now) {
			next = next.Add(step)
		}
		return &next
	}
	if s.ScheduledAt.After(now) {
		t := *s.ScheduledAt
		return &t
	}
	return nil
}
