package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"mmloader/internal/config"
	"mmloader/internal/testsupport"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	cfg        *config.Config
}

// setupCLITestEnv writes a config whose directories all live under a temp
// dir. mutate runs before the file is written.
func setupCLITestEnv(t *testing.T, mutate func(*config.Config), opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	for _, key := range []string{"MATCHMINER_SERVER", "MATCHMINER_TOKEN", "ENVIRONMENT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	if mutate != nil {
		opts = append(opts, testsupport.WithMutation(mutate))
	}
	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", base)
	return &cliTestEnv{
		baseDir:    base,
		configPath: testsupport.WriteConfig(t, cfg),
		cfg:        cfg,
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, text, want string) {
	t.Helper()
	if !strings.Contains(text, want) {
		t.Fatalf("expected %q in output:\n%s", want, text)
	}
}
