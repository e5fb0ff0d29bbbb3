package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mmloader/internal/chain"
	"mmloader/internal/exitcode"
)

func newChainCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "chain",
		Short: "Run the sync script, then the data processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			procSpec, err := processorSpec(ctx, cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			sync := &chain.CommandStep{Label: "sync", Spec: syncSpec(cfg), Out: out}
			processing := &chain.CommandStep{
				Label:       "processing",
				Spec:        procSpec,
				Out:         out,
				MissingCode: exitcode.General,
			}
			if cfg.Processor.UseEnvironment {
				processing.Before = environmentHook(ctx, cfg)
			}

			driver := &chain.Driver{
				Pipeline: chain.SyncThenProcess(sync, processing),
				Logger:   ctx.appLogger(),
				Out:      out,
			}
			if store := ctx.openLedger(); store != nil {
				defer store.Close()
				driver.Ledger = store
			}
			outcome := driver.Run(cmd.Context())
			fmt.Fprintf(out, "Chain finished: %s\n", outcome.Final.Label())
			return outcome.Err()
		},
	}
}
