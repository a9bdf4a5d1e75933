package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"magpie/internal/catalog"
	"magpie/internal/logging"
)

func newItemsCommand(ctx *commandContext) *cobra.Command {
	var stateFilter string

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List catalog items from the local snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			store := catalog.NewStore(cfg.SnapshotPath(), logging.NewNop())
			if err := store.Load(); err != nil {
				return fmt.Errorf("load catalog snapshot: %w", err)
			}

			items := store.Items()
			stdout := cmd.OutOrStdout()
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				state := string(item.CurrentState())
				if stateFilter != "" && state != stateFilter {
					continue
				}
				detail := item.ItemName
				if item.ErrorMessage != "" {
					detail = item.ErrorMessage
				}
				rows = append(rows, []string{
					item.ID,
					state,
					item.Category,
					item.SubCategory,
					detail,
				})
			}
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No items")
				return nil
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Item", "State", "Category", "Subcategory", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&stateFilter, "state", "", "Only show items in this state (unprocessed, in_progress, failed, complete)")
	return cmd
}
