package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mmloader/internal/exitcode"
	"mmloader/internal/ledger"
	"mmloader/internal/patient"
)

func newPatientCommand(ctx *commandContext) *cobra.Command {
	patientCmd := &cobra.Command{
		Use:   "patient",
		Short: "Patient operations",
	}
	patientCmd.AddCommand(&cobra.Command{
		Use:   "insert",
		Short: "Insert reviewed clinical documents and their genomic records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			loader := patient.NewLoader(cfg, client, ctx.appLogger())
			return ctx.recordRun(cmd.Context(), ledger.KindPatient, func(runCtx context.Context) error {
				summary, err := loader.InsertAll(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d patient(s), %d failed\n", len(summary.Processed), len(summary.Failed))
				if len(summary.Failed) > 0 {
					return exitcode.Newf(exitcode.General, "%d patient document(s) failed to load", len(summary.Failed))
				}
				return nil
			})
		},
	})
	return patientCmd
}
