package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mmloader/internal/exitcode"
	"mmloader/internal/launcher"
	"mmloader/internal/logging"
	"mmloader/internal/metrics"
	"mmloader/internal/watcher"
)

const watcherStopGrace = 10 * time.Second

func newWatchCommand(ctx *commandContext) *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the document directories and load new files",
	}
	watchCmd.AddCommand(newWatchStartCommand(ctx))
	watchCmd.AddCommand(newWatchStopCommand(ctx))
	watchCmd.AddCommand(newWatchStatusCommand(ctx))
	watchCmd.AddCommand(newWatchRunCommand(ctx))
	return watchCmd
}

func newWatchStartCommand(ctx *commandContext) *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the watcher in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var extra []string
			if minutes > 0 {
				extra = []string{"--minutes", strconv.Itoa(minutes)}
			}
			spec, err := watcherSpec(ctx, cfg, extra)
			if err != nil {
				return err
			}
			handle, err := launcher.Start(spec, launcher.StartOptions{
				PIDFile:  cfg.WatcherPIDPath(),
				LockFile: cfg.WatcherLockPath(),
			})
			if err != nil {
				if errors.Is(err, launcher.ErrAlreadyRunning) {
					return fmt.Errorf("watcher already running (%w); stop it with `mmloader watch stop`", err)
				}
				return err
			}
			ctx.appLogger().Info("watcher started",
				logging.Int("pid", handle.PID),
				logging.String("log", handle.LogPath),
			)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "File watcher started with PID %d\n", handle.PID)
			fmt.Fprintf(out, "Logs: %s\n", handle.LogPath)
			fmt.Fprintln(out, "Stop with: mmloader watch stop")
			return nil
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 0, "Check interval in minutes (overrides config)")
	return cmd
}

func newWatchStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			handle, err := launcher.Attach(cfg.WatcherPIDPath(), cfg.WatcherLockPath())
			if errors.Is(err, launcher.ErrNotRunning) {
				fmt.Fprintln(out, "Watcher is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if err := handle.Stop(cmd.Context(), watcherStopGrace); err != nil {
				if errors.Is(err, launcher.ErrNotRunning) {
					fmt.Fprintf(out, "Watcher is not running (removed stale pid %d)\n", handle.PID)
					return nil
				}
				return err
			}
			fmt.Fprintf(out, "Watcher stopped (pid %d)\n", handle.PID)
			return nil
		},
	}
}

func newWatchStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the background watcher is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range watcherStatusLines(cfg.WatcherPIDPath(), cfg.WatcherLockPath(), cfg.WatcherLogPath(), colorize) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func watcherStatusLines(pidFile, lockFile, logPath string, colorize bool) []string {
	handle, err := launcher.Attach(pidFile, lockFile)
	switch {
	case errors.Is(err, launcher.ErrNotRunning):
		return []string{renderStatusLine("Watcher", statusWarn, "not running", colorize)}
	case err != nil:
		return []string{renderStatusLine("Watcher", statusError, err.Error(), colorize)}
	case handle.RemoveStale():
		return []string{renderStatusLine("Watcher", statusWarn, fmt.Sprintf("not running (removed stale pid %d)", handle.PID), colorize)}
	case !handle.Alive():
		return []string{renderStatusLine("Watcher", statusWarn, fmt.Sprintf("not running (stale pid %d)", handle.PID), colorize)}
	}
	msg := fmt.Sprintf("running (pid %d)", handle.PID)
	if !handle.StartedAt.IsZero() {
		msg += fmt.Sprintf(", up %s", time.Since(handle.StartedAt).Round(time.Second))
	}
	return []string{
		renderStatusLine("Watcher", statusOK, msg, colorize),
		renderStatusLine("Watcher log", statusInfo, logPath, colorize),
	}
}

func newWatchRunCommand(ctx *commandContext) *cobra.Command {
	var minutes int
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the watcher in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			proc, err := ctx.processor(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			lock, err := launcher.AcquireLock(cfg.WatcherLockPath())
			if err != nil {
				if errors.Is(err, launcher.ErrAlreadyRunning) {
					return fmt.Errorf("another watcher holds %s: %w", cfg.WatcherLockPath(), err)
				}
				return err
			}
			defer lock.Release()

			logger := ctx.appLogger()
			w := watcher.New(cfg, proc, cmd.OutOrStdout(), logger)
			if minutes > 0 {
				w.Interval = time.Duration(minutes) * time.Minute
			}
			if store := ctx.openLedger(); store != nil {
				defer store.Close()
				w.Ledger = store
			}

			runCtx := cmd.Context()
			if cfg.Watcher.MetricsBind != "" {
				reg := metrics.NewRegistry()
				if w.Metrics, err = metrics.NewWatcher(reg); err != nil {
					return err
				}
				metricsCtx, cancel := context.WithCancel(runCtx)
				defer cancel()
				go func() {
					if err := metrics.Serve(metricsCtx, cfg.Watcher.MetricsBind, reg, logger); err != nil {
						logging.WarnWithContext(logger, "metrics endpoint stopped", "metrics_serve_failed",
							logging.String("addr", cfg.Watcher.MetricsBind),
							logging.Error(err),
							logging.String(logging.FieldImpact, "watcher keeps running without /metrics"),
						)
					}
				}()
			}

			if once {
				fmt.Fprintln(cmd.OutOrStdout(), "Processing files once...")
				if _, err := w.Prime(runCtx); err != nil {
					return err
				}
				if !w.ProcessOnce(runCtx) {
					return exitcode.New(exitcode.General, errProcessingFailed)
				}
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "File watcher will check every %d minutes\n", int(w.Interval/time.Minute))
			return w.Run(runCtx)
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 0, "Check interval in minutes (overrides config)")
	cmd.Flags().BoolVar(&once, "once", false, "Process files once and exit")
	return cmd
}
