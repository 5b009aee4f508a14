package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qbicsoftware/data-scanner/internal/daemonctl"
	"github.com/qbicsoftware/data-scanner/internal/ipc"
	"github.com/qbicsoftware/data-scanner/internal/ledger"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, directory and ledger status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, snapshot)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, strings.Join(renderSnapshot(snapshot, colorize), "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderSnapshot(snapshot *daemonctl.Snapshot, colorize bool) []string {
	var lines []string
	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	lines = append(lines, daemonLines(snapshot.Daemon, colorize)...)
	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Directories", colorize)...)
	lines = append(lines, checkLines(snapshot.Checks, colorize)...)
	if len(snapshot.Stats) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Transitions", colorize)...)
		lines = append(lines, renderStatsTable(snapshot.Stats))
	}
	return lines
}

func daemonLines(status *ipc.StatusResponse, colorize bool) []string {
	if status == nil {
		return []string{renderStatusLine("Data scanner", statusWarn, "Not running (run `datascanner start`)", colorize)}
	}
	var lines []string
	if status.Running {
		detail := fmt.Sprintf("Running (pid %d", status.PID)
		if !status.StartedAt.IsZero() {
			detail += ", started " + humanize.Time(status.StartedAt)
		}
		lines = append(lines, renderStatusLine("Data scanner", statusOK, detail+")", colorize))
	} else {
		lines = append(lines, renderStatusLine("Data scanner", statusError, "Workflow stopped", colorize))
	}
	if status.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, status.LastError, colorize))
	}

	queueKind := statusInfo
	if status.QueueCapacity > 0 && status.QueueDepth >= status.QueueCapacity {
		queueKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Request queue", queueKind,
		fmt.Sprintf("%d/%d requests", status.QueueDepth, status.QueueCapacity), colorize))
	lines = append(lines, renderStatusLine("Registration folders", statusInfo,
		strconv.Itoa(len(status.TrackedDirectories))+" tracked", colorize))

	active := make(map[string]int)
	total := make(map[string]int)
	for _, w := range status.Workers {
		total[w.Stage]++
		if w.Active {
			active[w.Stage]++
		}
	}
	for _, health := range status.StageHealth {
		kind := statusOK
		detail := fmt.Sprintf("%d/%d workers busy, %d claimed", active[health.Name], total[health.Name], health.Claims)
		if !health.Ready {
			kind = statusError
			detail = health.Detail
		}
		lines = append(lines, renderStatusLine(stageLabel(health.Name), kind, detail, colorize))
	}
	if status.MetricsListen != "" {
		lines = append(lines, renderStatusLine("Metrics", statusInfo, "http://"+status.MetricsListen+"/metrics", colorize))
	}
	return lines
}

func stageLabel(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func renderStatsTable(stats []ledger.StageStats) string {
	headers := []string{"Stage"}
	aligns := []columnAlignment{alignLeft}
	for _, outcome := range ledger.Outcomes {
		headers = append(headers, string(outcome))
		aligns = append(aligns, alignRight)
	}
	headers = append(headers, "total")
	aligns = append(aligns, alignRight)

	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		row := []string{s.Stage}
		for _, outcome := range ledger.Outcomes {
			row = append(row, strconv.Itoa(s.Outcomes[outcome]))
		}
		row = append(row, strconv.Itoa(s.Total()))
		rows = append(rows, row)
	}
	return renderTable(headers, rows, aligns)
}
