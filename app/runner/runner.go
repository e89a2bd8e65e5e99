// Package runner executes stored job commands through the shell and translates
// the child's exit into a run status. Blocks until the child exits, no internal
// timeout, an unresponsive child behaves the same as a direct shell invocation.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/jobers/app/history"
)

// Repeater retries failed function, matches go-pkgz/repeater
type Repeater interface {
	Do(ctx context.Context, fun func() error, errs ...error) (err error)
}

// ExecError returned for a failed execution, either a non-zero exit or the
// inability to start the process at all
type ExecError struct {
	Command string
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("execution of %q failed: %v", e.Command, e.Err)
}

// Unwrap returns the underlying cause, i.e. *exec.ExitError for a non-zero exit
func (e *ExecError) Unwrap() error { return e.Err }

// Runner executes shell commands, combined stdout+stderr streamed to Stdout and
// captured (last MaxLogLines) for notifications
type Runner struct {
	Stdout      io.Writer
	Repeater    Repeater // optional, nil means a single attempt
	MaxLogLines int      // output capture buffer size, 0 disables capture
}

// Run executes the command with extra args appended after the stored command
// text, the shell does its own tokenizing and pipe/redirect handling. Returns
// the run status, the captured output and an error for failed runs. A non-zero
// exit maps to a failure status with the child's exit code, a spawn failure maps
// to a failure status with the generic code 1.
func (r *Runner) Run(ctx context.Context, command string, args ...string) (history.Status, string, error) {
	cmdLine := command
	if len(args) > 0 {
		cmdLine = command + " " + strings.Join(args, " ")
	}

	stdout := r.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	capture := NewOutputCapture(r.MaxLogLines)

	execFn := func() error {
		log.Printf("[DEBUG] executing %q", cmdLine)
		cmd := exec.Command("sh", "-c", cmdLine) // nolint gosec // running arbitrary commands is the point
		out := io.MultiWriter(capture, stdout)
		cmd.Stdout = out
		cmd.Stderr = out
		return cmd.Run()
	}

	var err error
	if r.Repeater != nil {
		err = r.Repeater.Do(ctx, execFn)
	} else {
		err = execFn()
	}

	if err == nil {
		return history.Success(), capture.Output(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status := history.Failure(exitErr.ExitCode())
		return status, capture.Output(), &ExecError{Command: cmdLine, Err: err}
	}

	// the child never produced an exit code, i.e. the process couldn't be started
	return history.Failure(1), capture.Output(), &ExecError{Command: cmdLine, Err: err}
}
