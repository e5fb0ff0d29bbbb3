package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mmloader/internal/exitcode"
	"mmloader/internal/logging"
	"mmloader/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:       "logs [watcher|processor|app]",
		Short:     "Display the watcher, processor, or application log",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"watcher", "processor", "app"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := "watcher"
			if len(args) == 1 {
				target = args[0]
			}
			var path string
			switch target {
			case "watcher":
				path = cfg.WatcherLogPath()
			case "processor":
				path = cfg.ProcessorLogPath()
			case "app":
				path = filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
			default:
				return exitcode.Newf(exitcode.Config, "unknown log %q (expected watcher, processor, or app)", target)
			}

			out := cmd.OutOrStdout()
			tail, offset, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				if len(tail) == 0 {
					fmt.Fprintln(out, "No log entries available")
				}
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, out, time.Second)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	return cmd
}
