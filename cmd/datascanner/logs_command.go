package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qbicsoftware/data-scanner/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		taskID string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			emit := func(batch []string) error {
				for _, line := range batch {
					if _, err := fmt.Fprintln(out, line); err != nil {
						return err
					}
				}
				return nil
			}
			opts := logs.Options{Offset: -1, Limit: lines, Match: logs.TaskFilter(taskID)}
			if follow {
				return logs.Follow(cmd.Context(), cfg.LogPath(), opts, emit)
			}
			result, err := logs.Tail(cmd.Context(), cfg.LogPath(), opts)
			if err != nil {
				return err
			}
			return emit(result.Lines)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&taskID, "task", "", "Only show lines that mention this task id")
	return cmd
}
