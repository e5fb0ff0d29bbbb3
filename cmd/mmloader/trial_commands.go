package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mmloader/internal/exitcode"
	"mmloader/internal/ledger"
	"mmloader/internal/trial"
)

func newTrialCommand(ctx *commandContext) *cobra.Command {
	trialCmd := &cobra.Command{
		Use:   "trial",
		Short: "Trial operations",
	}
	trialCmd.AddCommand(newTrialInsertCommand(ctx))
	trialCmd.AddCommand(newTrialGetCommand(ctx))
	trialCmd.AddCommand(newTrialUpdateCommand(ctx))
	trialCmd.AddCommand(newTrialMaxProtocolCommand(ctx))
	trialCmd.AddCommand(newTrialNCTIDsCommand(ctx))
	return trialCmd
}

func (c *commandContext) trialLoader() (*trial.Loader, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client, err := c.client()
	if err != nil {
		return nil, err
	}
	return trial.NewLoader(cfg, client, c.appLogger()), nil
}

func newTrialInsertCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "insert",
		Short: "Insert reviewed trial documents, allocating protocol numbers",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := ctx.trialLoader()
			if err != nil {
				return err
			}
			return ctx.recordRun(cmd.Context(), ledger.KindTrial, func(runCtx context.Context) error {
				summary, err := loader.InsertAll(runCtx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, name := range summary.Inserted {
					fmt.Fprintf(out, "  inserted %s\n", name)
				}
				for _, name := range summary.Failed {
					fmt.Fprintf(out, "  failed   %s\n", name)
				}
				fmt.Fprintf(out, "Inserted %d trial(s), %d failed\n", len(summary.Inserted), len(summary.Failed))
				if len(summary.Failed) > 0 {
					return exitcode.Newf(exitcode.General, "%d trial document(s) failed to load", len(summary.Failed))
				}
				return nil
			})
		},
	}
}

func newTrialGetCommand(ctx *commandContext) *cobra.Command {
	var protocolNo string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print a trial by protocol number",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := ctx.trialLoader()
			if err != nil {
				return err
			}
			doc, err := loader.GetByProtocolNo(cmd.Context(), protocolNo)
			if errors.Is(err, trial.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "No trial found.")
				return nil
			}
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&protocolNo, "protocol-no", "", "Protocol number to fetch")
	_ = cmd.MarkFlagRequired("protocol-no")
	return cmd
}

func newTrialUpdateCommand(ctx *commandContext) *cobra.Command {
	var protocolNo, file string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace a trial by protocol number with a document file",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := ctx.trialLoader()
			if err != nil {
				return err
			}
			return ctx.recordRun(cmd.Context(), ledger.KindTrial, func(runCtx context.Context) error {
				if err := loader.UpdateByProtocolNo(runCtx, protocolNo, file); err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Update failed.")
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Update successful.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&protocolNo, "protocol-no", "", "Protocol number to update")
	cmd.Flags().StringVar(&file, "file", "", "JSON or YAML file with the updated trial")
	_ = cmd.MarkFlagRequired("protocol-no")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newTrialMaxProtocolCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "max-protocol",
		Short: "Print the highest protocol_id and its protocol_no",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := ctx.trialLoader()
			if err != nil {
				return err
			}
			highest, err := loader.MaxProtocol(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", highest.ID, highest.No)
			return nil
		},
	}
}

func newTrialNCTIDsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "nct-ids",
		Short: "Save the NCT ids of all trials to all_nct_ids.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := ctx.trialLoader()
			if err != nil {
				return err
			}
			ids, err := loader.NCTIDs(cmd.Context())
			if err != nil {
				return err
			}
			path, err := loader.SaveNCTIDs(ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "NCT Ids for %d trials saved at %s\n", len(ids), path)
			return nil
		},
	}
}
