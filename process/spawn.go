package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// Process is a detached child started by Spawn.
type Process struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
	err      error
}

// Spawn starts name in its own process group with stdin closed. Each line
// the child writes is logged through logger; the output is not kept
// anywhere else. The returned Process reports exit through Done.
func (r *Runner) Spawn(name string, args []string, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = r.logger
	}

	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.Stdin = nil

	// The child writes to plain os.Pipe ends so Wait returns as soon as
	// it exits, even if a descendant keeps the pipes open.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe for %s: %w", name, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe for %s: %w", name, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	logger.Info("process started", "command", name, "pid", cmd.Process.Pid)

	p := &Process{
		cmd:      cmd,
		done:     make(chan struct{}),
		exitCode: -1,
	}

	go logLines(stdoutR, logger, slog.LevelInfo, "stdout")
	go logLines(stderrR, logger, slog.LevelWarn, "stderr")

	go func() {
		p.err = cmd.Wait()
		if cmd.ProcessState != nil {
			p.exitCode = cmd.ProcessState.ExitCode()
		}
		close(p.done)
	}()

	return p, nil
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited. Output from descendants
// that outlive it may still be logged afterwards.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit status, or -1 while the process is running
// or when it was terminated by a signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.exitCode
	default:
		return -1
	}
}

// Err returns the error from Wait once the process has exited.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Terminate asks the whole process group to exit. It does not wait.
func (p *Process) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return terminate(p.cmd.Process)
}

// logLines logs r line by line until every writer has closed it.
func logLines(r *os.File, logger *slog.Logger, level slog.Level, stream string) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Log(context.Background(), level, scanner.Text(), "stream", stream)
	}
	// A line longer than the scanner buffer stops Scan; keep draining so
	// the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}
