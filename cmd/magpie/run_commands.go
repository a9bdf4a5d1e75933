package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"magpie/internal/ipc"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var phases []string
	var force bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a pipeline run on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.StartRun(phases, force)
				if err != nil {
					return err
				}
				if !resp.Started {
					return fmt.Errorf("run not started: %s", resp.Message)
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&phases, "phases", nil, "Restrict the run to these phases (cache, media, classify, document, publish)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-run phases even for items that already completed them")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the active run to drain and stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stop()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if resp.Stopping {
					fmt.Fprintln(stdout, "Stop requested; in-flight items will drain")
				} else {
					fmt.Fprintln(stdout, "No active run")
				}
				return nil
			})
		},
	}
}
