package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// Result reports a completed synchronous run.
type Result struct {
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Success reports whether the program exited zero.
func (r Result) Success() bool { return r.ExitCode == 0 }

// Summary renders the completion line written to the terminal and log.
func (r Result) Summary(subject string) string {
	ts := r.FinishedAt.Format(time.DateTime)
	if r.Success() {
		return fmt.Sprintf("%s completed successfully at %s", subject, ts)
	}
	return fmt.Sprintf("%s completed with errors (exit code: %d) at %s", subject, r.ExitCode, ts)
}

// Run executes spec to completion. Combined output goes to out and, when
// spec.LogPath is set, is appended to that file along with the Summary
// line. A non-zero exit is reported through Result.ExitCode; the error
// return covers failures to start.
// Cancelling ctx sends SIGTERM to the child.
func Run(ctx context.Context, spec Spec, out io.Writer) (Result, error) {
	path, err := spec.Resolve()
	if err != nil {
		return Result{}, err
	}
	logFile, err := openLog(spec.LogPath)
	if err != nil {
		return Result{}, err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	var sink io.Writer = io.Discard
	switch {
	case out != nil && logFile != nil:
		sink = io.MultiWriter(out, logFile)
	case out != nil:
		sink = out
	case logFile != nil:
		sink = logFile
	}

	cmd := spec.commandContext(ctx, path)
	cmd.Stdout = sink
	cmd.Stderr = sink
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 10 * time.Second

	result := Result{StartedAt: time.Now()}
	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("%s: start: %w", spec.Name, err)
	}
	waitErr := cmd.Wait()
	result.FinishedAt = time.Now()
	result.ExitCode = exitCode(waitErr)
	if waitErr != nil && result.ExitCode < 0 {
		return result, fmt.Errorf("%s: wait: %w", spec.Name, waitErr)
	}
	if logFile != nil {
		fmt.Fprintln(logFile, result.Summary(spec.subject()))
	}
	return result, nil
}

// exitCode extracts a shell-compatible status: the exit code, or 128+signal
// for a signalled child. It returns -1 for errors that carry no status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}

func (s Spec) subject() string {
	if s.Subject == "" {
		return "Processing"
	}
	return s.Subject
}
