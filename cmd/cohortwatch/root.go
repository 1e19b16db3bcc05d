package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/cohortwatch/internal/config"
	"github.com/rpattn/cohortwatch/internal/logging"
)

// app holds what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "cohortwatch",
		Short:        "Track startup directory companies and the changes between observations",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", ".", "directory containing config.yaml")

	root.AddCommand(
		newServeCmd(a),
		newCrawlCmd(a),
		newMigrateCmd(a),
		newRebuildCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, found, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a.cfg = cfg
	a.logger = logger
	logger.Debug("configuration loaded", zap.String("path", a.configPath), zap.Bool("file_found", found))
	return nil
}
