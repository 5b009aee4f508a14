package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qbicsoftware/data-scanner/internal/ipc"
	"github.com/qbicsoftware/data-scanner/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the task transition ledger",
	}
	ledgerCmd.AddCommand(newLedgerRecentCommand(ctx))
	ledgerCmd.AddCommand(newLedgerStatsCommand(ctx))
	return ledgerCmd
}

func newLedgerRecentCommand(ctx *commandContext) *cobra.Command {
	var req ipc.EventsRequest
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := fetchEvents(cmd.Context(), ctx, req)
			if err != nil {
				return err
			}
			if asJSON {
				if events == nil {
					events = []ledger.Event{}
				}
				return writeJSON(cmd, events)
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No transitions recorded")
				return nil
			}
			fmt.Fprintln(out, renderEventsTable(events))
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Stage, "stage", "", "Only show transitions of this stage")
	cmd.Flags().StringVar(&req.Outcome, "outcome", "", "Only show transitions with this outcome")
	cmd.Flags().StringVar(&req.TaskID, "task", "", "Only show transitions of this task id")
	cmd.Flags().IntVarP(&req.Limit, "limit", "n", 50, "Maximum number of transitions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newLedgerStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count transitions per stage and outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := fetchStats(cmd.Context(), ctx)
			if err != nil {
				return err
			}
			if asJSON {
				if stats == nil {
					stats = []ledger.StageStats{}
				}
				return writeJSON(cmd, stats)
			}
			out := cmd.OutOrStdout()
			if len(stats) == 0 {
				fmt.Fprintln(out, "No transitions recorded")
				return nil
			}
			fmt.Fprintln(out, renderStatsTable(stats))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// fetchEvents asks the daemon and falls back to the ledger file when no
// daemon is running.
func fetchEvents(cmdCtx context.Context, ctx *commandContext, req ipc.EventsRequest) ([]ledger.Event, error) {
	client, ok, err := ctx.dialClient()
	if err != nil {
		return nil, err
	}
	if ok {
		defer client.Close()
		resp, err := client.Events(req)
		if err != nil {
			return nil, err
		}
		return resp.Events, nil
	}

	store, err := openLedgerFile(ctx)
	if err != nil || store == nil {
		return nil, err
	}
	defer store.Close()
	return store.Recent(cmdCtx, ledger.Filter{
		Stage:   strings.TrimSpace(req.Stage),
		Outcome: ledger.Outcome(strings.TrimSpace(req.Outcome)),
		TaskID:  strings.TrimSpace(req.TaskID),
		Limit:   req.Limit,
	})
}

func fetchStats(cmdCtx context.Context, ctx *commandContext) ([]ledger.StageStats, error) {
	client, ok, err := ctx.dialClient()
	if err != nil {
		return nil, err
	}
	if ok {
		defer client.Close()
		resp, err := client.Stats()
		if err != nil {
			return nil, err
		}
		return resp.Stages, nil
	}

	store, err := openLedgerFile(ctx)
	if err != nil || store == nil {
		return nil, err
	}
	defer store.Close()
	return store.Stats(cmdCtx)
}

// openLedgerFile returns nil without error when no ledger has been written.
func openLedgerFile(ctx *commandContext) (*ledger.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Ledger.Enabled {
		return nil, fmt.Errorf("ledger is disabled in the configuration")
	}
	if _, err := os.Stat(cfg.LedgerPath()); os.IsNotExist(err) {
		return nil, nil
	}
	return ledger.Open(cfg.LedgerPath())
}

func renderEventsTable(events []ledger.Event) string {
	headers := []string{"When", "Stage", "Outcome", "Task", "Measurement", "Detail"}
	rows := make([][]string, 0, len(events))
	for _, event := range events {
		detail := event.Reason
		if detail == "" {
			detail = event.Destination
		}
		rows = append(rows, []string{
			humanize.Time(event.CreatedAt),
			event.Stage,
			string(event.Outcome),
			event.TaskID,
			event.MeasurementID,
			detail,
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignWrap})
}
