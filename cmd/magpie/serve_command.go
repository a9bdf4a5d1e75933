package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"magpie/internal/catalog"
	"magpie/internal/daemon"
	"magpie/internal/ipc"
	"magpie/internal/logging"
	"magpie/internal/runs"
)

func newServeCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the magpie daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger, err := logging.NewForPaths(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			cat := catalog.NewStore(cfg.SnapshotPath(), logger)
			if err := cat.Load(); err != nil {
				return fmt.Errorf("load catalog snapshot: %w", err)
			}

			runStore, err := runs.Open(cfg.RunDBPath())
			if err != nil {
				return fmt.Errorf("open run store: %w", err)
			}

			orch := buildOrchestrator(cfg, cat, runStore, logger)
			d, err := daemon.New(cfg, cat, runStore, orch, logger)
			if err != nil {
				runStore.Close()
				return err
			}
			defer d.Close()

			server, err := ipc.NewServer(ctx, cmdCtx.socketPath(), d, logger)
			if err != nil {
				return fmt.Errorf("start ipc server: %w", err)
			}
			defer server.Close()
			server.Serve()

			if err := d.Start(ctx); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "magpie daemon listening on %s\n", cmdCtx.socketPath())
			<-ctx.Done()
			logger.Info("magpie daemon shutting down")
			return nil
		},
	}
}
