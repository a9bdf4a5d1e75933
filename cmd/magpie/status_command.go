package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"magpie/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}

				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Daemon:   running (pid %d)\n", resp.PID)
				fmt.Fprintf(stdout, "Lock:     %s\n", resp.LockPath)
				fmt.Fprintf(stdout, "Snapshot: %s\n", resp.SnapshotPath)

				if resp.ActiveRun != nil {
					fmt.Fprintf(stdout, "Run:      %s (%s, %.0f%%)\n",
						resp.ActiveRun.ID, resp.ActiveRun.Status, resp.ActiveRun.ProgressPercent)
					if resp.CurrentPhase != "" {
						fmt.Fprintf(stdout, "Phase:    %s\n", resp.CurrentPhase)
					}
					if resp.Message != "" {
						fmt.Fprintf(stdout, "Message:  %s\n", resp.Message)
					}
					if resp.ETASeconds > 0 {
						fmt.Fprintf(stdout, "ETA:      %s\n", (time.Duration(resp.ETASeconds) * time.Second).String())
					}
				} else {
					fmt.Fprintln(stdout, "Run:      none active")
				}

				rows := itemCountRows(resp.ItemCounts)
				if len(rows) == 0 {
					fmt.Fprintln(stdout, "Catalog is empty")
					return nil
				}
				fmt.Fprintln(stdout, renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func itemCountRows(counts map[string]int) [][]string {
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, state)
	}
	sort.Strings(states)

	rows := make([][]string, 0, len(states))
	for _, state := range states {
		rows = append(rows, []string{state, strconv.Itoa(counts[state])})
	}
	return rows
}
