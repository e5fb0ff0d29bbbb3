package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mmloader/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Verify the working directory, interpreter, and libraries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report := preflight.Run(cmd.Context(), preflight.OptionsFromConfig(cfg))
			printPreflightReport(cmd.OutOrStdout(), report, shouldColorize(cmd.OutOrStdout()))
			if err := report.Err(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All dependencies satisfied")
			return nil
		},
	}
}

func printPreflightReport(out io.Writer, report preflight.Report, colorize bool) {
	for _, check := range report.Checks {
		label := fmt.Sprintf("%s %s", check.Category, check.Name)
		switch {
		case check.Skipped:
			fmt.Fprintln(out, renderStatusLine(label, statusInfo, "skipped", colorize))
		case check.Passed:
			fmt.Fprintln(out, renderStatusLine(label, statusOK, check.Detail, colorize))
		default:
			fmt.Fprintln(out, renderStatusLine(label, statusError, check.Detail, colorize))
		}
	}
}
