package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qbicsoftware/data-scanner/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that every pipeline directory exists and is writable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cfg)
			if asJSON {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
				return preflight.Err(results)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			printSection(out, "Directories", checkLines(results, colorize), colorize)
			return preflight.Err(results)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newInitDirsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init-dirs",
		Short: "Create every pipeline directory named in the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, dir := range cfg.PipelineDirectories() {
				if _, err := os.Stat(dir); err == nil {
					fmt.Fprintf(out, "exists   %s\n", dir)
					continue
				}
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
				fmt.Fprintf(out, "created  %s\n", dir)
			}
			return nil
		},
	}
}

func checkLines(results []preflight.Result, colorize bool) []string {
	lines := make([]string, 0, len(results))
	for _, result := range results {
		kind := statusOK
		if !result.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
	}
	return lines
}
