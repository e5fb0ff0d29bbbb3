package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mmloader/internal/config"
	"mmloader/internal/exitcode"
	"mmloader/internal/launcher"
)

func newLaunchCommand(ctx *commandContext) *cobra.Command {
	launchCmd := &cobra.Command{
		Use:   "launch",
		Short: "Run configured programs",
	}
	launchCmd.AddCommand(&cobra.Command{
		Use:   "processor",
		Short: "Run the data processor to completion and forward its exit code",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			spec, err := processorSpec(ctx, cfg)
			if err != nil {
				return err
			}
			if cfg.Processor.UseEnvironment {
				if err := environmentHook(ctx, cfg)(cmd.Context(), &spec); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running processor: %s\n", spec.String())
			result, err := launcher.Run(cmd.Context(), spec, out)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, result.Summary(spec.Subject))
			fmt.Fprintf(out, "Log: %s\n", spec.LogPath)
			if !result.Success() {
				return exitcode.Forward(result.ExitCode)
			}
			return nil
		},
	})
	return launchCmd
}

// selfArgv runs this binary with args, forwarding an explicit --config.
func selfArgv(ctx *commandContext, args ...string) ([]string, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate mmloader executable: %w", err)
	}
	argv := append([]string{self}, ctx.configArgs()...)
	return append(argv, args...), nil
}

func processorSpec(ctx *commandContext, cfg *config.Config) (launcher.Spec, error) {
	argv := cfg.Processor.Command
	if len(argv) == 0 {
		var err error
		if argv, err = selfArgv(ctx, "process"); err != nil {
			return launcher.Spec{}, err
		}
	}
	spec, err := launcher.SpecFromArgv("processor", argv)
	if err != nil {
		return launcher.Spec{}, exitcode.New(exitcode.Config, err)
	}
	spec.Dir = cfg.Paths.WorkDir
	spec.Env = cfg.EnvironmentVars()
	spec.LogPath = cfg.ProcessorLogPath()
	spec.Subject = "Processing"
	return spec, nil
}

func watcherSpec(ctx *commandContext, cfg *config.Config, extra []string) (launcher.Spec, error) {
	argv := cfg.Watcher.Command
	if len(argv) == 0 {
		var err error
		if argv, err = selfArgv(ctx, "watch", "run"); err != nil {
			return launcher.Spec{}, err
		}
	}
	argv = append(append([]string(nil), argv...), extra...)
	spec, err := launcher.SpecFromArgv("watcher", argv)
	if err != nil {
		return launcher.Spec{}, exitcode.New(exitcode.Config, err)
	}
	spec.Dir = cfg.Paths.WorkDir
	spec.Env = cfg.EnvironmentVars()
	spec.LogPath = cfg.WatcherLogPath()
	return spec, nil
}

func syncSpec(cfg *config.Config) launcher.Spec {
	return launcher.Spec{
		Name:    "sync",
		Path:    cfg.SyncScriptPath(),
		Args:    append([]string(nil), cfg.Sync.Args...),
		Dir:     cfg.Sync.Dir,
		Env:     cfg.EnvironmentVars(),
		Subject: "Sync",
	}
}
