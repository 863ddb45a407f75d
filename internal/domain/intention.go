package domain

import (
	"errors"
	"time"
)

var (
	ErrIntentionNotFound = errors.New("intention not found")
	ErrNoToken           = errors.New("user owns no token for this source")
	ErrBadCursor         = errors.New("malformed pagination cursor")
)

// Intention is a user's declared desire to reach a state for a target.
// JobID is nil until the intention is admitted; many intentions may bind to
// the same job (coalescing). The previous relation lives in its own table
// and an intention is ready once that set is empty.
type Intention struct {
	ID        string
	Kind      Kind
	UserID    string
	RepoID    string
	JobID     *string
	CreatedAt time.Time
}

// ArchStatus is the terminal status recorded on archived intentions.
type ArchStatus string

const (
	ArchOK    ArchStatus = "OK"
	ArchError ArchStatus = "ERROR"
)

// ArchivedIntention is the frozen record of a completed or failed intention.
type ArchivedIntention struct {
	ID          string
	Kind        Kind
	UserID      *string
	RepoID      string
	Status      ArchStatus
	ArchJobID   *string
	CreatedAt   time.Time
	CompletedAt time.Time
}
