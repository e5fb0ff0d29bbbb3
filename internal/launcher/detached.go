package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning reports that a live process already owns the PID file
// or lock file.
var ErrAlreadyRunning = errors.New("already running")

// ErrNotRunning reports a PID file that is missing or names a dead process.
var ErrNotRunning = errors.New("not running")

// Handle supervises a detached process.
type Handle struct {
	PID     int
	LogPath string
	PIDFile string
	// LockFile, when set, must be held by some process for an attached
	// handle to count as alive. A PID alone can be reused after a crash.
	LockFile  string
	StartedAt time.Time

	// done is closed once a child started by this process has been reaped.
	done chan struct{}
}

// StartOptions controls detached launch bookkeeping.
type StartOptions struct {
	PIDFile  string
	LockFile string
}

// Start launches spec in a new session with stdout and stderr appended to
// spec.LogPath, writes the PID file, and returns immediately.
func Start(spec Spec, opts StartOptions) (*Handle, error) {
	path, err := spec.Resolve()
	if err != nil {
		return nil, err
	}
	if opts.PIDFile != "" {
		if existing, err := Attach(opts.PIDFile, opts.LockFile); err == nil {
			if existing.Alive() {
				return nil, fmt.Errorf("%s: pid %d: %w", spec.Name, existing.PID, ErrAlreadyRunning)
			}
			existing.RemoveStale()
		}
	}
	if opts.LockFile != "" {
		if held, err := LockHeld(opts.LockFile); err != nil {
			return nil, err
		} else if held {
			return nil, fmt.Errorf("%s: lock %s: %w", spec.Name, opts.LockFile, ErrAlreadyRunning)
		}
	}

	logFile, err := openLog(spec.LogPath)
	if err != nil {
		return nil, err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	cmd := spec.command(path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: start detached: %w", spec.Name, err)
	}

	handle := &Handle{
		PID:       cmd.Process.Pid,
		LogPath:   spec.LogPath,
		PIDFile:   opts.PIDFile,
		LockFile:  opts.LockFile,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(handle.done)
	}()

	if err := writePIDFile(opts.PIDFile, handle.PID); err != nil {
		_ = handle.signal(unix.SIGKILL)
		return nil, err
	}
	return handle, nil
}

// Attach recovers a Handle from a PID file written by Start. lockFile may
// be empty when the process holds no lock.
func Attach(pidFile, lockFile string) (*Handle, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotRunning
		}
		return nil, fmt.Errorf("read pid file %q: %w", pidFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("pid file %q: invalid contents", pidFile)
	}
	handle := &Handle{PID: pid, PIDFile: pidFile, LockFile: lockFile}
	if info, err := os.Stat(pidFile); err == nil {
		handle.StartedAt = info.ModTime()
	}
	return handle, nil
}

// Alive reports whether the process still exists. An attached handle with
// a LockFile also requires the lock to be held, so a reused PID reads as
// stale.
func (h *Handle) Alive() bool {
	if !h.processAlive() {
		return false
	}
	if h.done != nil || h.LockFile == "" {
		return true
	}
	held, err := LockHeld(h.LockFile)
	return err == nil && held
}

// RemoveStale deletes the PID file when the handle is not alive. It reports
// whether the file was removed.
func (h *Handle) RemoveStale() bool {
	if h == nil || h.Alive() {
		return false
	}
	return h.removePIDFile()
}

func (h *Handle) processAlive() bool {
	if h == nil || h.PID <= 0 {
		return false
	}
	if h.done != nil {
		select {
		case <-h.done:
			return false
		default:
			return true
		}
	}
	err := unix.Kill(h.PID, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Stop sends SIGTERM to the process group, waits up to grace for it to
// exit, then sends SIGKILL. The PID file is removed once the process is
// gone. A stale handle is never signalled; its PID file is removed and
// ErrNotRunning returned.
func (h *Handle) Stop(ctx context.Context, grace time.Duration) error {
	if !h.Alive() {
		h.removePIDFile()
		return ErrNotRunning
	}
	if h.PID == os.Getpid() {
		return fmt.Errorf("refusing to signal current process (pid %d)", h.PID)
	}
	if err := h.signal(unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("terminate pid %d: %w", h.PID, err)
	}
	if h.waitExit(ctx, grace) {
		h.removePIDFile()
		return nil
	}
	if err := h.signal(unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill pid %d: %w", h.PID, err)
	}
	h.waitExit(context.Background(), 5*time.Second)
	h.removePIDFile()
	return nil
}

func (h *Handle) waitExit(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !h.processAlive() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return !h.processAlive()
		case <-ticker.C:
		}
	}
}

// signal targets the process group first; Start makes the child a session
// leader so the group includes anything it spawned.
func (h *Handle) signal(sig unix.Signal) error {
	if err := unix.Kill(-h.PID, sig); err == nil {
		return nil
	}
	return unix.Kill(h.PID, sig)
}

func (h *Handle) removePIDFile() bool {
	if h.PIDFile == "" {
		return false
	}
	data, err := os.ReadFile(h.PIDFile)
	if err != nil {
		return false
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(h.PID) {
		return false
	}
	return os.Remove(h.PIDFile) == nil
}

func writePIDFile(path string, pid int) error {
	if path == "" {
		return nil
	}
	if err := ensureParent(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
