package chain

import (
	"context"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"mmloader/internal/exitcode"
	"mmloader/internal/launcher"
)

// CommandStep runs a launcher.Spec synchronously.
type CommandStep struct {
	Label string
	Spec  launcher.Spec
	Out   io.Writer
	// MissingCode is the exit status used when the program or its working
	// directory is absent. Defaults to exitcode.MissingSiblingScript.
	MissingCode int
	// Before, when set, runs at the start of Run on a copy of Spec and may
	// rewrite it, for example to execute inside a managed environment.
	Before func(ctx context.Context, spec *launcher.Spec) error
}

func (s *CommandStep) Name() string { return s.Label }

// Check verifies the working directory exists and the program is executable.
func (s *CommandStep) Check(ctx context.Context) error {
	code := s.MissingCode
	if code == 0 {
		code = exitcode.MissingSiblingScript
	}
	if dir := strings.TrimSpace(s.Spec.Dir); dir != "" {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return exitcode.Newf(code, "working directory %s not found", dir)
		}
	}
	if strings.ContainsRune(s.Spec.Path, os.PathSeparator) {
		program := s.Spec.Program()
		info, err := os.Stat(program)
		if err != nil || info.IsDir() {
			return exitcode.Newf(code, "program %s not found", s.Spec.Path)
		}
		if err := unix.Access(program, unix.X_OK); err != nil {
			return exitcode.Newf(code, "program %s is not executable", s.Spec.Path)
		}
		return nil
	}
	if _, err := s.Spec.Resolve(); err != nil {
		return exitcode.New(code, err)
	}
	return nil
}

// Run applies Before, then executes the program to completion.
func (s *CommandStep) Run(ctx context.Context) (Result, error) {
	spec := s.Spec
	spec.Args = append([]string(nil), s.Spec.Args...)
	if s.Before != nil {
		if err := s.Before(ctx, &spec); err != nil {
			return Result{}, err
		}
	}
	result, err := launcher.Run(ctx, spec, s.Out)
	if err != nil {
		return Result{}, err
	}
	return Result{
		ExitCode: result.ExitCode,
		Summary:  result.Summary(s.Label),
	}, nil
}
