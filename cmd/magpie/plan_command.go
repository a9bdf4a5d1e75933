package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"magpie/internal/catalog"
	"magpie/internal/logging"
	"magpie/internal/synthesis"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show which aggregate documents a synthesis pass would rebuild",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			store := catalog.NewStore(cfg.SnapshotPath(), logging.NewNop())
			if err := store.Load(); err != nil {
				return fmt.Errorf("load catalog snapshot: %w", err)
			}

			records := synthesis.NewRecordStore(cfg.SynthesisDir(), logging.NewNop())
			stored, err := records.Load()
			if err != nil {
				return fmt.Errorf("load synthesis records: %w", err)
			}

			engine := synthesis.NewEngine(cfg.Synthesis.MinGroupSize, logging.NewNop())
			plan := engine.Analyze(stored, store.Items())

			stdout := cmd.OutOrStdout()
			if len(plan.ToRegenerate) == 0 && len(plan.ToCreate) == 0 {
				fmt.Fprintf(stdout, "Nothing to rebuild; %d artifact(s) up to date\n", len(plan.UpToDate))
				return nil
			}

			rows := make([][]string, 0, len(plan.ToRegenerate)+len(plan.ToCreate))
			for _, decision := range plan.ToRegenerate {
				rows = append(rows, []string{decision.Key.String(), "regenerate", string(decision.Reason)})
			}
			for _, key := range plan.ToCreate {
				rows = append(rows, []string{key.String(), "create", "new_group"})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Artifact", "Action", "Reason"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))
			fmt.Fprintf(stdout, "%d artifact(s) up to date\n", len(plan.UpToDate))
			return nil
		},
	}
}
