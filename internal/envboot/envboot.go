// Package envboot makes sure the managed conda environment exists before
// programs are launched inside it.
package envboot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mmloader/internal/config"
	"mmloader/internal/exitcode"
	"mmloader/internal/logging"
)

// Runner executes the environment tool. ExecRunner is the production
// implementation; tests substitute a fake.
type Runner interface {
	LookPath(name string) (string, error)
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec, streaming Run output to Stdout and
// Stderr when set.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (ExecRunner) LookPath(name string) (string, error) { return exec.LookPath(name) }

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, err
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	return cmd.Run()
}

// Environment describes an activated environment.
type Environment struct {
	Name      string
	Prefix    string
	Tool      string
	Created   bool
	Installed bool
}

// Wrap rewrites argv so it executes inside the environment. The parent
// process environment is left untouched.
func (e Environment) Wrap(argv []string) []string {
	wrapped := make([]string, 0, len(argv)+5)
	wrapped = append(wrapped, e.Tool, "run", "--no-capture-output", "-n", e.Name)
	return append(wrapped, argv...)
}

// Bootstrapper ensures a named environment exists with its dependencies.
type Bootstrapper struct {
	Tool          string
	Name          string
	PythonVersion string
	Manifest      string
	Runner        Runner
	Logger        *slog.Logger
}

// New builds a Bootstrapper from the [conda] section.
func New(cfg *config.Config, runner Runner, logger *slog.Logger) *Bootstrapper {
	if runner == nil {
		runner = ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}
	}
	return &Bootstrapper{
		Tool:          cfg.Conda.Binary,
		Name:          cfg.Conda.EnvName,
		PythonVersion: cfg.Conda.PythonVersion,
		Manifest:      cfg.Conda.Manifest,
		Runner:        runner,
		Logger:        logging.NewComponentLogger(logger, "envboot"),
	}
}

// Ensure finds the environment, creating it and installing the manifest
// when absent. Calling it again after success performs no creation.
func (b *Bootstrapper) Ensure(ctx context.Context) (Environment, error) {
	env := Environment{Name: b.Name, Tool: b.Tool}
	if _, err := b.Runner.LookPath(b.Tool); err != nil {
		return env, exitcode.Newf(exitcode.MissingEnvironmentTool,
			"environment tool %q not found on PATH; install Miniconda or set conda.binary", b.Tool)
	}

	prefix, found, err := b.find(ctx)
	if err != nil {
		return env, exitcode.New(exitcode.MissingEnvironmentTool, fmt.Errorf("list environments: %w", err))
	}
	if found {
		env.Prefix = prefix
		b.Logger.Info("environment present",
			logging.String("env", b.Name),
			logging.String("prefix", prefix),
			logging.String(logging.FieldEventType, "env_present"),
		)
		return env, nil
	}

	b.Logger.Info("creating environment",
		logging.String("env", b.Name),
		logging.String("python", b.PythonVersion),
		logging.String(logging.FieldEventType, "env_create_start"),
	)
	if err := b.Runner.Run(ctx, b.Tool, "create", "-y", "-n", b.Name, "python="+b.PythonVersion); err != nil {
		return env, exitcode.New(exitcode.EnvironmentCreationFailed,
			fmt.Errorf("create environment %s: %w", b.Name, err))
	}
	env.Created = true
	if prefix, found, err := b.find(ctx); err == nil && found {
		env.Prefix = prefix
	}

	installed, err := b.install(ctx)
	if err != nil {
		return env, err
	}
	env.Installed = installed
	return env, nil
}

func (b *Bootstrapper) install(ctx context.Context) (bool, error) {
	if _, err := os.Stat(b.Manifest); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, exitcode.New(exitcode.EnvironmentInstallFailed, fmt.Errorf("stat manifest: %w", err))
		}
		logging.WarnWithContext(b.Logger, "dependency manifest missing; skipping install", "env_manifest_missing",
			logging.String("manifest", b.Manifest),
			logging.String(logging.FieldErrorHint, "add "+filepath.Base(b.Manifest)+" to the working directory"),
			logging.String(logging.FieldImpact, "environment has only the base interpreter"),
		)
		return false, nil
	}
	if err := b.Runner.Run(ctx, b.Tool, "run", "-n", b.Name, "python", "-m", "pip", "install", "-r", b.Manifest); err != nil {
		return false, exitcode.New(exitcode.EnvironmentInstallFailed,
			fmt.Errorf("install %s into %s: %w", filepath.Base(b.Manifest), b.Name, err))
	}
	b.Logger.Info("environment dependencies installed",
		logging.String("env", b.Name),
		logging.String("manifest", b.Manifest),
		logging.String(logging.FieldEventType, "env_install_complete"),
	)
	return true, nil
}

type envList struct {
	Envs []string `json:"envs"`
}

func (b *Bootstrapper) find(ctx context.Context) (string, bool, error) {
	out, err := b.Runner.Output(ctx, b.Tool, "env", "list", "--json")
	if err != nil {
		return "", false, err
	}
	var list envList
	if err := json.Unmarshal(out, &list); err != nil {
		return "", false, fmt.Errorf("decode env list: %w", err)
	}
	for i, prefix := range list.Envs {
		if b.Name == "base" && (i == 0 || filepath.Base(filepath.Dir(prefix)) != "envs") {
			return prefix, true, nil
		}
		if filepath.Base(prefix) == b.Name && filepath.Base(filepath.Dir(prefix)) == "envs" {
			return prefix, true, nil
		}
	}
	return "", false, nil
}
