package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/cohortwatch/internal/changes"
)

func newRebuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-changes",
		Short: "Recompute every change event from snapshot history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openPostgres(ctx, a.cfg.Database)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := changes.NewMaterializer(s.snapshots, s.events, a.logger).Rebuild(ctx)
			if err != nil {
				return fmt.Errorf("failed to rebuild change events: %w", err)
			}
			a.logger.Info("change events rebuilt", zap.Int("events", n))
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d change events\n", n)
			return nil
		},
	}
}
