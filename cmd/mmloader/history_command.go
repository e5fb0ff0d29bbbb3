package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mmloader/internal/chain"
	"mmloader/internal/ledger"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg.LedgerPath())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprintln(out, renderHistory(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func renderHistory(runs []ledger.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		duration := "-"
		if d := run.Duration(); d > 0 {
			duration = d.Round(time.Millisecond).String()
		}
		exit := "-"
		if run.State != ledger.StateRunning {
			exit = strconv.Itoa(run.ExitCode)
		}
		rows = append(rows, []string{
			shortID(run.ID),
			string(run.Kind),
			chain.Humanize(string(run.State)),
			run.StartedAt.Local().Format(time.DateTime),
			duration,
			exit,
			truncate(run.Detail, 48),
		})
	}
	return renderTable(
		[]string{"ID", "Kind", "State", "Started", "Duration", "Exit", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, width int) string {
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width-3]) + "..."
}
