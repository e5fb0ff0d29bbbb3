package main

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"mmloader/internal/exitcode"
	"mmloader/internal/ledger"
	"mmloader/internal/patient"
	"mmloader/internal/processor"
	"mmloader/internal/trial"
)

var errProcessingFailed = errors.New("processing completed with errors")

func newProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Load patient then trial documents once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, err := ctx.processor(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return ctx.recordRun(cmd.Context(), ledger.KindProcess, func(runCtx context.Context) error {
				if !proc.ProcessFiles(runCtx) {
					return exitcode.New(exitcode.General, errProcessingFailed)
				}
				return nil
			})
		},
	}
}

func (c *commandContext) processor(out io.Writer) (*processor.Processor, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client, err := c.client()
	if err != nil {
		return nil, err
	}
	logger := c.appLogger()
	return processor.New(
		patient.NewLoader(cfg, client, logger),
		trial.NewLoader(cfg, client, logger),
		out,
		logger,
	), nil
}
