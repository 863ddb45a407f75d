package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrScheduledNotFound = errors.New("scheduled intention not found")
	ErrInvalidSchedule   = errors.New("exactly one of scheduled_at and depends_on must be set")
	ErrInvalidCronExpr   = errors.New("invalid cron expression")
	ErrBadTarget         = errors.New("bad target args")
)

// TargetArgs are the keyword parameters a materialized intention needs to
// locate or create its target. Which fields apply depends on the kind's
// source: URL for git, Owner/Repo for github and gitlab, Group for meetup.
type TargetArgs struct {
	URL   string `json:"url,omitempty"`
	Owner string `json:"owner,omitempty"`
	Repo  string `json:"repo,omitempty"`
	Group string `json:"group,omitempty"`
}

// Validate checks the args carry what the kind's source needs. Failures
// wrap ErrBadTarget so callers can tell user error from infrastructure.
func (a TargetArgs) Validate(k Kind) error {
	switch k.Source() {
	case SourceGit:
		if a.URL == "" {
			return fmt.Errorf("%w: git target needs a url", ErrBadTarget)
		}
	case SourceGitHub:
		if a.Owner == "" || a.Repo == "" {
			return fmt.Errorf("%w: github target needs owner and repo", ErrBadTarget)
		}
	case SourceGitLab:
		if a.Owner == "" || a.Repo == "" {
			return fmt.Errorf("%w: gitlab target needs owner and repo", ErrBadTarget)
		}
	case SourceMeetup:
		if a.Group == "" {
			return fmt.Errorf("%w: meetup target needs a group", ErrBadTarget)
		}
	}
	return nil
}

// ScheduledIntention describes a future or periodic intention creation.
//
// Rows with ScheduledAt set fire when that time passes. Rows with DependsOnID
// set instead fire when their parent row does, with the parent's freshly
// created intention as a prerequisite. WorkerID is the claim field: non-nil
// means a worker is materializing the row right now, which keeps two workers
// from firing it twice in the same tick.
type ScheduledIntention struct {
	ID          string
	Kind        Kind
	Args        TargetArgs
	UserID      string
	ScheduledAt *time.Time
	DependsOnID *string
	RepeatHours *int
	CronExpr    *string
	WorkerID    *string
	CreatedAt   time.Time
}
