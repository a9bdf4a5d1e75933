package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"magpie/internal/ipc"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Run history utilities",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsSweepCommand(ctx))
	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(limit)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Runs) == 0 {
					fmt.Fprintln(stdout, "No runs recorded")
					return nil
				}

				rows := make([][]string, 0, len(resp.Runs))
				for _, run := range resp.Runs {
					rows = append(rows, []string{
						run.ID,
						run.Status,
						fmt.Sprintf("%.0f%%", run.ProgressPercent),
						formatRunTime(run.StartedAt),
						formatRunTime(run.CompletedAt),
						run.Message,
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Run", "Status", "Progress", "Started", "Completed", "Message"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	return cmd
}

func newRunsSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail runs stuck in running beyond the configured timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Sweep()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Swept %d stuck run(s)\n", resp.Swept)
				return nil
			})
		},
	}
}

func formatRunTime(value *time.Time) string {
	if value == nil {
		return "-"
	}
	return value.Local().Format("2006-01-02 15:04:05")
}
