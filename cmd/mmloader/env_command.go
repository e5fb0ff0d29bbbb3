package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"mmloader/internal/config"
	"mmloader/internal/envboot"
	"mmloader/internal/launcher"
	"mmloader/internal/logging"
	"mmloader/internal/preflight"
)

func newEnvCommand(ctx *commandContext) *cobra.Command {
	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Managed execution environment",
	}
	envCmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create the environment and install dependencies if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runner := envboot.ExecRunner{Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()}
			env, err := envboot.New(cfg, runner, ctx.appLogger()).Ensure(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Environment %s ready\n", env.Name)
			if env.Prefix != "" {
				fmt.Fprintf(out, "  Prefix:    %s\n", env.Prefix)
			}
			fmt.Fprintf(out, "  Created:   %s\n", yesNo(env.Created))
			fmt.Fprintf(out, "  Installed: %s\n", yesNo(env.Installed))
			return nil
		},
	})
	return envCmd
}

// environmentHook ensures the managed environment, verifies its interpreter
// and libraries, then rewrites spec to run inside it.
func environmentHook(ctx *commandContext, cfg *config.Config) func(context.Context, *launcher.Spec) error {
	return func(runCtx context.Context, spec *launcher.Spec) error {
		logger := ctx.appLogger()
		env, err := envboot.New(cfg, nil, logger).Ensure(runCtx)
		if err != nil {
			return err
		}
		opts := preflight.OptionsFromConfig(cfg)
		if env.Prefix != "" {
			opts.Interpreter = filepath.Join(env.Prefix, "bin", "python")
		}
		if err := preflight.Run(runCtx, opts).Err(); err != nil {
			return err
		}
		wrapped := env.Wrap(spec.Argv())
		spec.Path, spec.Args = wrapped[0], wrapped[1:]
		logger.Info("running inside managed environment",
			logging.String("environment", env.Name),
			logging.String("command", spec.String()),
		)
		return nil
	}
}
