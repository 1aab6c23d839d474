package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"go-relayer/internal/app"
	"go-relayer/internal/services"

	"github.com/spf13/cobra"
)

func newReconcileCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single reconciliation pass and exit",
		Long: `Runs one reconciliation pass against the configured database and chain.

The pass takes the same database lock as "relayer serve", so it exits with an
error instead of racing a pass that is already running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}

			container, err := app.InitializeContainer(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer container.Close()

			result, err := container.Scheduler.Trigger()
			if errors.Is(err, services.ErrPassInProgress) {
				return fmt.Errorf("another reconciliation pass is running: %w", err)
			}
			if err != nil {
				return fmt.Errorf("reconciliation pass failed: %w", err)
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
