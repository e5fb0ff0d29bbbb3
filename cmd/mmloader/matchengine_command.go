package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMatchEngineCommand(ctx *commandContext) *cobra.Command {
	engineCmd := &cobra.Command{
		Use:   "matchengine",
		Short: "Match engine operations",
	}
	engineCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Ask the server to recompute trial matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.RunMatchEngine(cmd.Context()); err != nil {
				return fmt.Errorf("run matchengine: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Matchengine run request sent successfully.")
			return nil
		},
	})
	return engineCmd
}
