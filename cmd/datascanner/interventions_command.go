package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qbicsoftware/data-scanner/internal/daemon"
)

func newInterventionsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "interventions",
		Short: "List task directories parked for an operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			stages, err := fetchInterventions(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, stages)
			}
			out := cmd.OutOrStdout()
			rows := interventionRows(stages)
			if len(rows) == 0 {
				fmt.Fprintln(out, "No tasks need intervention")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Task", "Parked", "Size", "Reason"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignWrap},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func fetchInterventions(ctx *commandContext) ([]daemon.StageInterventions, error) {
	client, ok, err := ctx.dialClient()
	if err != nil {
		return nil, err
	}
	if ok {
		defer client.Close()
		resp, err := client.Interventions()
		if err != nil {
			return nil, err
		}
		return resp.Stages, nil
	}
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return daemon.ListInterventions(cfg)
}

func interventionRows(stages []daemon.StageInterventions) [][]string {
	var rows [][]string
	for _, s := range stages {
		for _, task := range s.Tasks {
			reason := task.Reason
			if reason == "" {
				reason = "-"
			}
			rows = append(rows, []string{
				s.Stage,
				task.ID,
				humanize.Time(task.ModTime),
				humanize.Bytes(uint64(task.Size)),
				reason,
			})
		}
	}
	return rows
}
