package runner

import (
	"context"
	"io"

	"github.com/cauldronio/poolsched/internal/domain"
)

// Task is one invocation of the external analysis program.
type Task struct {
	Kind  domain.Kind
	URL   string
	Token string // empty when the kind runs without one
}

// Result reports a finished run. RetryMinutes is non-zero when the task ran
// out of API quota: the job should be parked and resumed that many minutes
// later. Hard failures come back as errors instead.
type Result struct {
	RetryMinutes int
}

// TaskRunner executes data-gathering tasks. Everything the task prints goes
// to out, which the dispatcher points at the job's log file.
type TaskRunner interface {
	Run(ctx context.Context, task Task, out io.Writer) (Result, error)
}
