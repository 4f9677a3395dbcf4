// Package process runs the external command-line tools the service
// drives: short synchronous invocations whose output is captured, and
// long-lived detached children observed through an exit channel.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes external commands.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a runner. A nil logger discards output.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{logger: logger}
}

// Error describes a command that could not be run or exited non-zero.
type Error struct {
	Command  string
	ExitCode int // -1 if the process never ran or was killed by a signal
	Stdout   string
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Command, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Output runs name with args and returns its stdout. On failure the
// returned error is an *Error carrying stdout, stderr and the exit code.
func (r *Runner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return stdout.Bytes(), newError(cmd, err, stdout.String(), stderr.String())
	}
	return stdout.Bytes(), nil
}

// CombinedOutput runs name with args and returns stdout and stderr
// interleaved. adb writes most diagnostics for connect/pair to either
// stream depending on the version, so callers that inspect the text use
// this instead of Output.
func (r *Runner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		return buf.Bytes(), newError(cmd, err, buf.String(), "")
	}
	return buf.Bytes(), nil
}

// Stream is a running command whose stdout is consumed incrementally.
type Stream struct {
	Stdout io.Reader
	cmd    *exec.Cmd
}

// Wait blocks until the command exits. Call it after Stdout hits EOF.
func (s *Stream) Wait() error {
	return s.cmd.Wait()
}

// Start launches name with args and hands back its stdout. The command
// is killed when ctx is cancelled.
func (r *Runner) Start(ctx context.Context, name string, args ...string) (*Stream, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", name, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, newError(cmd, err, "", stderr.String())
	}
	r.logger.Debug("stream started", "command", name, "pid", cmd.Process.Pid)
	return &Stream{Stdout: stdout, cmd: cmd}, nil
}

func newError(cmd *exec.Cmd, err error, stdout, stderr string) *Error {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &Error{
		Command:  strings.Join(cmd.Args, " "),
		ExitCode: code,
		Stdout:   stdout,
		Stderr:   stderr,
		Err:      err,
	}
}
