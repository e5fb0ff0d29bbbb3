package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"mmloader/internal/config"
	"mmloader/internal/exitcode"
	"mmloader/internal/ledger"
	"mmloader/internal/logging"
	"mmloader/internal/matchminer"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = exitcode.New(exitcode.Config, err)
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = exitcode.New(exitcode.Config, err)
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// configArgs forwards an explicit --config to child mmloader processes.
func (c *commandContext) configArgs() []string {
	if c.configFlag == nil || strings.TrimSpace(*c.configFlag) == "" {
		return nil
	}
	path, err := config.ExpandPath(strings.TrimSpace(*c.configFlag))
	if err != nil {
		return []string{"--config", *c.configFlag}
	}
	return []string{"--config", path}
}

// appLogger returns the application logger, pruning expired log files the
// first time it is built.
func (c *commandContext) appLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging unavailable: %v\n", err)
			c.logger = logging.NewNop()
			return
		}
		c.logger = logger
		logging.PruneLogs(logger, cfg.Paths.LogDir, "*.log", cfg.Logging.RetentionDays,
			cfg.WatcherLogPath(), cfg.ProcessorLogPath())
	})
	return c.logger
}

func (c *commandContext) client() (*matchminer.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireServer(); err != nil {
		return nil, exitcode.New(exitcode.Config, err)
	}
	client, err := matchminer.New(cfg.MatchMiner)
	if err != nil {
		return nil, exitcode.New(exitcode.Config, err)
	}
	return client, nil
}

// openLedger returns nil with a warning when the database cannot be opened;
// ledger history is never a reason to fail a command.
func (c *commandContext) openLedger() *ledger.Store {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil
	}
	store, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		logging.WarnWithContext(c.appLogger(), "run ledger unavailable", "ledger_open_failed",
			logging.String(logging.FieldPath, cfg.LedgerPath()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "this run is not recorded in history"),
		)
		return nil
	}
	return store
}

// recordRun executes fn and stores its outcome in the ledger.
func (c *commandContext) recordRun(ctx context.Context, kind ledger.Kind, fn func(context.Context) error) error {
	store := c.openLedger()
	if store == nil {
		return fn(ctx)
	}
	defer store.Close()

	run, err := store.StartRun(ctx, kind)
	if err != nil {
		logging.WarnWithContext(c.appLogger(), "run ledger unavailable", "ledger_start_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this run is not recorded in history"),
		)
		return fn(ctx)
	}
	runErr := fn(logging.WithRunID(ctx, run.ID))

	state, detail := ledger.StateSucceeded, ""
	if runErr != nil {
		state, detail = ledger.StateFailed, runErr.Error()
	}
	if err := store.FinishRun(context.WithoutCancel(ctx), run, state, exitcode.From(runErr), detail); err != nil {
		logging.WarnWithContext(c.appLogger(), "run ledger update failed", "ledger_finish_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "history shows this run as still running"),
		)
	}
	return runErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
