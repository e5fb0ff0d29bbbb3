package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mmloader/internal/chain"
	"mmloader/internal/config"
	"mmloader/internal/ledger"
	"mmloader/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show prerequisites, watcher, server, and last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			writeStatus(cmd.Context(), out, cfg, ctx.configPath, colorize)
			return nil
		},
	}
}

func writeStatus(ctx context.Context, out io.Writer, cfg *config.Config, configPath string, colorize bool) {
	section := func(title string) {
		fmt.Fprintln(out, renderSectionHeader(title, colorize))
	}

	section("Configuration")
	fmt.Fprintln(out, renderStatusLine("Config file", statusInfo, configPath, colorize))
	env := cfg.Environment
	if env == "" {
		env = "(unset)"
	}
	fmt.Fprintln(out, renderStatusLine("ENVIRONMENT", statusInfo, env, colorize))
	fmt.Fprintln(out)

	section("Prerequisites")
	printPreflightReport(out, preflight.Run(ctx, preflight.OptionsFromConfig(cfg)), colorize)
	fmt.Fprintln(out)

	section("Directories")
	for _, dir := range []struct{ name, path string }{
		{"Clinical documents", cfg.PatientClinicalDir()},
		{"Genomic documents", cfg.PatientGenomicDir()},
		{"Trial documents", cfg.Trial.DataDir},
		{"Sync directory", cfg.Sync.Dir},
	} {
		result := preflight.CheckDirectoryAccess(dir.name, dir.path)
		kind := statusOK
		if !result.Passed {
			kind = statusWarn
		}
		fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
	}
	fmt.Fprintln(out)

	section("Watcher")
	for _, line := range watcherStatusLines(cfg.WatcherPIDPath(), cfg.WatcherLockPath(), cfg.WatcherLogPath(), colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)

	section("MatchMiner")
	if err := cfg.RequireServer(); err != nil {
		fmt.Fprintln(out, renderStatusLine("Server", statusWarn, err.Error(), colorize))
	} else {
		result := preflight.CheckServer(ctx, cfg.MatchMiner.Server, cfg.MatchMiner.Token, cfg.MatchMiner.InsecureSkipVerify)
		kind := statusOK
		if !result.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine("Server", kind, result.Detail, colorize))
	}
	fmt.Fprintln(out)

	section("Last run")
	fmt.Fprintln(out, lastRunLine(ctx, cfg.LedgerPath(), colorize))
}

func lastRunLine(ctx context.Context, path string, colorize bool) string {
	store, err := ledger.Open(path)
	if err != nil {
		return renderStatusLine("Ledger", statusWarn, err.Error(), colorize)
	}
	defer store.Close()
	runs, err := store.ListRuns(ctx, 1)
	if err != nil {
		return renderStatusLine("Ledger", statusWarn, err.Error(), colorize)
	}
	if len(runs) == 0 {
		return renderStatusLine("Last run", statusInfo, "none recorded", colorize)
	}
	run := runs[0]
	kind := statusOK
	switch run.State {
	case ledger.StateFailed:
		kind = statusError
	case ledger.StateRunning:
		kind = statusInfo
	}
	msg := fmt.Sprintf("%s: %s at %s", run.Kind, chain.Humanize(string(run.State)), run.StartedAt.Local().Format(time.DateTime))
	if run.Detail != "" {
		msg += " (" + strings.TrimSpace(truncate(run.Detail, 60)) + ")"
	}
	return renderStatusLine("Last run", kind, msg, colorize)
}
