package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mnemo/internal/supervisor"
	"mnemo/internal/wire"
)

func newRememberCommand(ctx *commandContext) *cobra.Command {
	var tags []string
	var source string

	cmd := &cobra.Command{
		Use:   "remember <text>",
		Short: "Store a memory in this workspace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return ctx.withSupervisor(func(cctx context.Context, sup *supervisor.Supervisor) error {
				raw, err := sup.SendEnsureStarted(cctx, wire.MethodIngest, wire.IngestParams{
					Text:   text,
					Tags:   tags,
					Source: source,
				})
				if err != nil {
					return err
				}
				var result wire.IngestResult
				if err := json.Unmarshal(raw, &result); err != nil {
					return fmt.Errorf("decode ingest result: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "remembered %s\n", result.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Tag the memory (repeatable)")
	cmd.Flags().StringVar(&source, "source", "cli", "Where the memory came from")
	return cmd
}

func newRecallCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Retrieve memories relevant to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return ctx.withSupervisor(func(cctx context.Context, sup *supervisor.Supervisor) error {
				raw, err := sup.SendEnsureStarted(cctx, wire.MethodRetrieve, wire.RetrieveParams{
					Query: query,
					Limit: limit,
				})
				if err != nil {
					return err
				}
				var result wire.RetrieveResult
				if err := json.Unmarshal(raw, &result); err != nil {
					return fmt.Errorf("decode retrieve result: %w", err)
				}
				if jsonOut {
					return printJSON(cmd, result.Memories)
				}
				printMemories(cmd, result.Memories)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit results as JSON")
	return cmd
}

func newForgetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <id>",
		Short: "Remove one memory by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSupervisor(func(cctx context.Context, sup *supervisor.Supervisor) error {
				raw, err := sup.SendEnsureStarted(cctx, wire.MethodForget, wire.ForgetParams{ID: args[0]})
				if err != nil {
					return err
				}
				var result wire.ForgetResult
				if err := json.Unmarshal(raw, &result); err != nil {
					return fmt.Errorf("decode forget result: %w", err)
				}
				if !result.Removed {
					fmt.Fprintf(cmd.OutOrStdout(), "no memory with id %s\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", args[0])
				return nil
			})
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSupervisor(func(cctx context.Context, sup *supervisor.Supervisor) error {
				raw, err := sup.SendEnsureStarted(cctx, wire.MethodStats, nil)
				if err != nil {
					return err
				}
				var stats wire.StatsResult
				if err := json.Unmarshal(raw, &stats); err != nil {
					return fmt.Errorf("decode stats result: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "memories: %d\n", stats.Total)
				if stats.Oldest != "" {
					fmt.Fprintf(out, "oldest:   %s\n", stats.Oldest)
				}
				if stats.Newest != "" {
					fmt.Fprintf(out, "newest:   %s\n", stats.Newest)
				}
				return nil
			})
		},
	}
}

func printMemories(cmd *cobra.Command, memories []wire.Memory) {
	out := cmd.OutOrStdout()
	if len(memories) == 0 {
		fmt.Fprintln(out, "no matching memories")
		return
	}

	if !stdoutIsTerminal() {
		for _, m := range memories {
			fmt.Fprintf(out, "%s\t%.2f\t%s\n", m.ID, m.Score, m.Text)
		}
		return
	}

	rows := make([][]string, 0, len(memories))
	for _, m := range memories {
		rows = append(rows, []string{
			shortID(m.ID),
			fmt.Sprintf("%.2f", m.Score),
			formatAge(m.CreatedAt),
			strings.Join(m.Tags, ","),
			truncate(m.Text, 72),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "SCORE", "AGE", "TAGS", "MEMORY"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	))
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatAge(createdAt string) string {
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return "?"
	}
	age := time.Since(ts)
	switch {
	case age < time.Minute:
		return "now"
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
