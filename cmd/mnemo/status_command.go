package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mnemo/internal/supervisor"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and workspace lock diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Diagnostics never start the worker.
			return ctx.withSupervisor(func(cctx context.Context, sup *supervisor.Supervisor) error {
				report := sup.Diagnostics()
				if jsonOut {
					return printJSON(cmd, report)
				}
				printReport(cmd, report)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the report as JSON")
	return cmd
}

func printReport(cmd *cobra.Command, report supervisor.Report) {
	out := cmd.OutOrStdout()

	rows := [][]string{
		{"state", string(report.State)},
		{"healthy", fmt.Sprintf("%t", report.Healthy)},
		{"daemon enabled", fmt.Sprintf("%t", report.DaemonEnabled)},
		{"pending requests", fmt.Sprintf("%d", report.PendingRequests)},
		{"recovery attempts", fmt.Sprintf("%d/%d", report.Recovery.Attempts, report.Recovery.MaxAttempts)},
		{"log file", report.LogPath},
	}
	if report.WorkerPID != 0 {
		rows = append(rows, []string{"worker pid", fmt.Sprintf("%d", report.WorkerPID)})
	}
	if report.IdleSuspended {
		rows = append(rows, []string{"idle suspended", "true"})
	}
	if report.Lock.Owner != nil {
		rows = append(rows, []string{"lock owner", fmt.Sprintf("pid %d on %s", report.Lock.Owner.PID, report.Lock.Owner.Hostname)})
	}
	if report.LastFailure != nil {
		rows = append(rows, []string{"last failure", string(report.LastFailure.Reason)})
		rows = append(rows, []string{"failure detail", report.LastFailure.Message})
	}

	if stdoutIsTerminal() {
		fmt.Fprintln(out, renderTable([]string{"FIELD", "VALUE"}, rows, nil))
	} else {
		for _, row := range rows {
			fmt.Fprintf(out, "%s: %s\n", row[0], row[1])
		}
	}

	if len(report.StderrTail) > 0 {
		fmt.Fprintf(out, "\nworker stderr (last %d lines):\n", len(report.StderrTail))
		for _, line := range report.StderrTail {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
	if len(report.Hints) > 0 {
		fmt.Fprintln(out, "\nhints:")
		for _, hint := range report.Hints {
			fmt.Fprintf(out, "  - %s\n", hint)
		}
	}
}
