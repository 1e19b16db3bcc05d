package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/cohortwatch/internal/db"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(db.Up), string(db.Down)},
		RunE: func(_ *cobra.Command, args []string) error {
			direction := db.Up
			if len(args) == 1 {
				direction = db.Direction(args[0])
			}
			if err := db.RunMigrations(a.cfg.Database, direction, a.logger); err != nil {
				return fmt.Errorf("failed to migrate %s: %w", direction, err)
			}
			return nil
		},
	}
}
