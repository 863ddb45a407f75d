package domain

import (
	"errors"
	"time"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	// ErrNoReadyToken means a job holding only cooling-down tokens was
	// picked up; the job goes back to the queue until one resets.
	ErrNoReadyToken = errors.New("no ready token attached to job")
	// ErrTokenlessSource rejects registering a credential for a source
	// that never uses one, like git.
	ErrTokenlessSource = errors.New("source does not use tokens")
)

// Token is an API credential for one source, owned by one user. ResetAt is
// the earliest time the token may be used again; jobs may hold a token while
// it cools down, they are just not resumable until it resets.
type Token struct {
	ID            string
	Source        Source
	UserID        string
	Secret        string
	RefreshSecret *string
	ResetAt       time.Time
	CreatedAt     time.Time
}

// Ready reports whether the token's rate-limit cool-down has passed.
func (t *Token) Ready(now time.Time) bool {
	return now.After(t.ResetAt)
}
