package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Spec describes one external program invocation. Env entries are added to
// the child's environment only; the parent process is never modified.
type Spec struct {
	Name    string
	Path    string
	Args    []string
	Dir     string
	Env     []string
	LogPath string
	// Subject names the work in completion summaries. Defaults to "Processing".
	Subject string
}

// ErrEmptyCommand reports a Spec without a program path.
var ErrEmptyCommand = errors.New("launcher: empty command")

// SpecFromArgv builds a Spec whose program is argv[0].
func SpecFromArgv(name string, argv []string) (Spec, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return Spec{}, fmt.Errorf("%s: %w", name, ErrEmptyCommand)
	}
	return Spec{Name: name, Path: argv[0], Args: append([]string(nil), argv[1:]...)}, nil
}

// Argv returns the full command line.
func (s Spec) Argv() []string {
	return append([]string{s.Path}, s.Args...)
}

// String renders the command line for logs.
func (s Spec) String() string {
	return strings.Join(s.Argv(), " ")
}

// Program returns the program path as the child will see it. A relative
// path containing a separator is anchored to Dir, matching how the child
// resolves it after changing directory; bare names are left for PATH.
func (s Spec) Program() string {
	if s.Dir == "" || filepath.IsAbs(s.Path) || !strings.ContainsRune(s.Path, os.PathSeparator) {
		return s.Path
	}
	joined := filepath.Join(s.Dir, s.Path)
	if abs, err := filepath.Abs(joined); err == nil {
		return abs
	}
	return joined
}

// Resolve verifies the program can be found, returning its absolute path.
func (s Spec) Resolve() (string, error) {
	if strings.TrimSpace(s.Path) == "" {
		return "", fmt.Errorf("%s: %w", s.Name, ErrEmptyCommand)
	}
	path, err := exec.LookPath(s.Program())
	if err != nil {
		return "", fmt.Errorf("%s: program %q not found: %w", s.Name, s.Path, err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}

func (s Spec) command(path string) *exec.Cmd {
	return s.prepare(exec.Command(path, s.Args...))
}

func (s Spec) commandContext(ctx context.Context, path string) *exec.Cmd {
	return s.prepare(exec.CommandContext(ctx, path, s.Args...))
}

func (s Spec) prepare(cmd *exec.Cmd) *exec.Cmd {
	cmd.Dir = s.Dir
	cmd.Env = append(os.Environ(), s.Env...)
	return cmd
}

func openLog(path string) (*os.File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	if err := ensureParent(path); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return file, nil
}
