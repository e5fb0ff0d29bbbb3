package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"mmloader/internal/config"
)

const maskedToken = "********"

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := writeSampleConfig(targetPath, overwrite)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set matchminer.server and matchminer.token (or export MATCHMINER_SERVER and MATCHMINER_TOKEN) before loading documents.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

// writeSampleConfig writes the embedded sample to target, or to the default
// location when target is blank, and returns the resolved path.
func writeSampleConfig(target string, overwrite bool) (string, error) {
	var err error
	if target = strings.TrimSpace(target); target == "" {
		target, err = config.DefaultConfigPath()
	} else {
		target, err = config.ExpandPath(target)
	}
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}

	if !overwrite {
		_, statErr := os.Stat(target)
		switch {
		case statErr == nil:
			return "", fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
		case !errors.Is(statErr, fs.ErrNotExist):
			return "", fmt.Errorf("check config path: %w", statErr)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := config.CreateSample(target); err != nil {
		return "", fmt.Errorf("create sample config: %w", err)
	}
	return target, nil
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with the token masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.MatchMiner.Token != "" {
				shown.MatchMiner.Token = maskedToken
			}
			data, err := toml.Marshal(shown)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", ctx.configPath)
			_, err = out.Write(data)
			return err
		},
	}
}

// newConfigValidateCommand relies on the root pre-run, which already loads,
// normalizes and validates the file.
func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if !ctx.configExists {
				fmt.Fprintln(out, renderStatusLine("Config file", statusWarn, ctx.configPath+" not found; using defaults", colorize))
			}
			if err := cfg.RequireServer(); err != nil {
				fmt.Fprintln(out, renderStatusLine("MatchMiner", statusWarn, err.Error(), colorize))
			}
			fmt.Fprintf(out, "Configuration valid: %s\n", ctx.configPath)
			return nil
		},
	}
}
