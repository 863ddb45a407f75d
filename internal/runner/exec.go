package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cauldronio/poolsched/internal/domain"
)

// ExecRunner runs the mordred command line program, one process per task.
//
// The exit status carries the outcome: 0 is success, 1 is failure, and
// anything above 1 means the task ran out of API quota and asks to be
// resumed after that many minutes.
type ExecRunner struct {
	bin        string
	gitRoot    string
	elasticURL string
}

// NewExecRunner builds a runner invoking bin. Git sources clone under
// gitRoot; elasticURL, when set, is handed to the task process through its
// environment (mordred writes indexes there, the scheduler never does).
func NewExecRunner(bin, gitRoot, elasticURL string) *ExecRunner {
	return &ExecRunner{bin: bin, gitRoot: gitRoot, elasticURL: elasticURL}
}

func (r *ExecRunner) Run(ctx context.Context, task Task, out io.Writer) (Result, error) {
	args := []string{
		"--backend", string(task.Kind.Source()),
		"--phase", string(task.Kind.Phase()),
		"--url", task.URL,
	}
	if task.Token != "" {
		args = append(args, "--token", task.Token)
	}
	if task.Kind.Source() == domain.SourceGit {
		args = append(args, "--git-path", r.clonePath(task.URL))
	}

	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	if r.elasticURL != "" {
		cmd.Env = append(os.Environ(), "ELASTICSEARCH_URL="+r.elasticURL)
	}

	err := cmd.Run()
	if err == nil {
		return Result{}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 1 {
			return Result{RetryMinutes: code}, nil
		}
		return Result{}, fmt.Errorf("%s exited with status %d", r.bin, exitErr.ExitCode())
	}
	return Result{}, fmt.Errorf("run %s: %w", r.bin, err)
}

// clonePath maps a repository URL to its clone directory under the git
// root: scheme dropped, path separators flattened, so
// https://github.com/grimoirelab/perceval clones into
// <root>/github.com-grimoirelab-perceval.
func (r *ExecRunner) clonePath(url string) string {
	trimmed := url
	if i := strings.Index(trimmed, "://"); i >= 0 {
		trimmed = trimmed[i+3:]
	}
	trimmed = strings.ReplaceAll(strings.Trim(trimmed, "/"), "/", "-")
	return filepath.Join(r.gitRoot, trimmed)
}
