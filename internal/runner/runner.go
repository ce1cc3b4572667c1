// File: internal/runner/runner.go
// Description: Blocking execution of external collaborators. Standard output can be
// appended to a log file, mirrored to the console, or both.

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

const waitDelay = 10 * time.Second

// ErrNotStarted wraps failures that happen before the child process exists.
var ErrNotStarted = errors.New("process could not be started")

// Command describes one external process.
type Command struct {
	Program string
	Args    []string
	Dir     string
	// LogPath is opened in append mode and receives stdout. Empty keeps stdout on the console.
	LogPath string
	// Echo mirrors stdout to the console when LogPath is set.
	Echo bool
}

// Result is what is known about a finished process.
type Result struct {
	ExitCode int
	Started  time.Time
	Duration time.Duration
}

// Runner executes commands to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands as child processes of the current one.
type ExecRunner struct {
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer
	// commandContext is swapped in tests.
	commandContext func(ctx context.Context, name string, args ...string) *exec.Cmd
	now            func() time.Time
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithConsole redirects what would otherwise go to the process's own stdout and stderr.
func WithConsole(stdout, stderr io.Writer) Option {
	return func(r *ExecRunner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// NewExecRunner creates a runner that inherits the console of the current process.
func NewExecRunner(logger *zap.Logger, opts ...Option) *ExecRunner {
	r := &ExecRunner{
		logger:         logger.Named("runner"),
		stdout:         os.Stdout,
		stderr:         os.Stderr,
		commandContext: exec.CommandContext,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks until the process exits. A non-zero exit status is reported through
// Result.ExitCode and is not an error. Errors are returned when the process could not
// be started or when ctx ended while it was running.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	res := Result{ExitCode: -1, Started: r.now()}

	stdout := r.stdout
	if c.LogPath != "" {
		f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return res, fmt.Errorf("%w: failed to open log %s: %v", ErrNotStarted, c.LogPath, err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				r.logger.Warn("Failed to close invocation log", zap.String("path", c.LogPath), zap.Error(cerr))
			}
		}()
		if c.Echo {
			stdout = io.MultiWriter(r.stdout, f)
		} else {
			stdout = f
		}
	}

	cmd := r.commandContext(ctx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = stdout
	cmd.Stderr = r.stderr
	// Grandchildren holding the output pipes must not keep Wait blocked after a kill.
	cmd.WaitDelay = waitDelay

	r.logger.Debug("Starting process", zap.String("program", c.Program), zap.Strings("args", c.Args))
	if err := cmd.Start(); err != nil {
		res.Duration = r.now().Sub(res.Started)
		return res, fmt.Errorf("%w: %s: %v", ErrNotStarted, c.Program, err)
	}

	err := cmd.Wait()
	res.Duration = r.now().Sub(res.Started)
	if err == nil {
		res.ExitCode = 0
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("failed waiting for %s: %w", c.Program, err)
}
