package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))

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
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit the file to set workers.publish_command before starting the daemon.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "show",
		Short:       "Show the resolved configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			cfg, resolvedPath, exists, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", resolvedPath)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintf(out, "Data directory: %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "Log directory: %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "Staging directory: %s\n", cfg.Paths.StagingDir)
			fmt.Fprintf(out, "Database backend: %s\n", cfg.Database.Backend)
			if cfg.Database.Backend == "postgres" {
				fmt.Fprintf(out, "Database DSN set: %s\n", yesNo(strings.TrimSpace(cfg.Database.DSN) != ""))
			}
			fmt.Fprintf(out, "Workers: %d (poll every %ds, prefix %q)\n", cfg.Workers.Count, cfg.Workers.PollIntervalSeconds, cfg.Workers.ProcessorPrefix)
			fmt.Fprintf(out, "Publish command set: %s\n", yesNo(strings.TrimSpace(cfg.Workers.PublishCommand) != ""))
			fmt.Fprintf(out, "Default target branch: %s\n", cfg.Workers.DefaultTargetBranch)
			fmt.Fprintf(out, "Queue defaults: priority %d, max retries %d\n", cfg.Queue.DefaultPriority, cfg.Queue.DefaultMaxRetries)
			fmt.Fprintf(out, "Processing window: %dm\n", cfg.Queue.MaxProcessingMinutes)
			fmt.Fprintf(out, "Retention: %d days\n", cfg.Queue.RetentionDays)
			fmt.Fprintf(out, "HTTP API enabled: %s", yesNo(cfg.API.Enabled))
			if cfg.API.Enabled {
				fmt.Fprintf(out, " (bind %s)", cfg.API.Bind)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Notifications configured: %s\n", yesNo(strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""))
			fmt.Fprintf(out, "Log format: %s (%s)\n", cfg.Logging.Format, cfg.Logging.Level)
			return nil
		},
	}
}
