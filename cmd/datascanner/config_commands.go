package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qbicsoftware/data-scanner/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:         "config",
		Short:       "Configuration utilities",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
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
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit paths.scanner_dir and evaluation.target_dirs, then run `datascanner init-dirs`.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			source := path
			if !exists {
				source = path + " (not found, defaults used)"
			}
			lines := []string{
				renderStatusLine("Config path", statusInfo, source, false),
				renderStatusLine("Scanner directory", statusInfo, cfg.Paths.ScannerDir, false),
				renderStatusLine("Registration", statusInfo, stageSummary(cfg.Registration.Workers, cfg.Registration.WorkingDir), false),
				renderStatusLine("Processing", statusInfo, stageSummary(cfg.Processing.Workers, cfg.Processing.WorkingDir), false),
				renderStatusLine("Evaluation", statusInfo, stageSummary(cfg.Evaluation.Workers, cfg.Evaluation.WorkingDir), false),
				renderStatusLine("Evaluation targets", statusInfo, fmt.Sprintf("%d", len(cfg.Evaluation.TargetDirs)), false),
				renderStatusLine("Ledger", statusInfo, enabledDetail(cfg.Ledger.Enabled, cfg.LedgerPath()), false),
				renderStatusLine("Notifications", statusInfo, enabledDetail(cfg.Notifications.NtfyTopic != "", cfg.Notifications.NtfyTopic), false),
				renderStatusLine("Configuration", statusOK, "valid", false),
			}
			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}

func stageSummary(workers int, workingDir string) string {
	return fmt.Sprintf("%d workers, %s", workers, workingDir)
}

func enabledDetail(enabled bool, detail string) string {
	if !enabled {
		return "disabled"
	}
	return detail
}
