package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/cohortwatch/internal/source"
)

type crawlFlags struct {
	seed     string
	discover bool
	limit    int
	offline  string
	dryRun   bool
}

func newCrawlCmd(a *app) *cobra.Command {
	f := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Observe every target once and record what changed",
		Long: `crawl fetches each target page, records a snapshot when the observation
differs from the latest one and materializes the resulting change events.
Targets come from a csv/xlsx seed list (--seed) or the directory listing (--discover).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("limit") {
				f.limit = a.cfg.Crawl.Limit
			}
			return a.crawl(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.seed, "seed", "", "csv or xlsx seed list")
	cmd.Flags().BoolVar(&f.discover, "discover", false, "discover targets from the directory listing")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of targets, 0 for all (default from crawl.limit)")
	cmd.Flags().StringVar(&f.offline, "offline", "", "read pages from a directory of saved html instead of the network")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "keep results in memory instead of Postgres")
	cmd.MarkFlagsMutuallyExclusive("seed", "discover")
	cmd.MarkFlagsOneRequired("seed", "discover")
	return cmd
}

func (a *app) crawl(cmd *cobra.Command, f *crawlFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher, err := a.fetcher(f.offline)
	if err != nil {
		return fmt.Errorf("failed to load offline pages: %w", err)
	}

	targets, label, err := a.targets(ctx, fetcher, f)
	if err != nil {
		return err
	}
	if f.limit > 0 && len(targets) > f.limit {
		targets = targets[:f.limit]
	}

	var s *stores
	if f.dryRun {
		s = openMemory()
	} else {
		s, err = openPostgres(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
	}
	defer s.Close()

	summary, runErr := s.orchestrator(a, fetcher, label).Run(ctx, targets)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("crawl interrupted after %d items: %w", summary.Total, runErr)
	}
	return nil
}

func (a *app) targets(ctx context.Context, fetcher source.Fetcher, f *crawlFlags) ([]source.Target, string, error) {
	base := a.cfg.Crawl.BaseURL
	if f.seed != "" {
		data, err := os.ReadFile(f.seed)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read seed list: %w", err)
		}
		targets, err := source.LoadTargets(filepath.Base(f.seed), data, base)
		if err != nil {
			return nil, "", fmt.Errorf("failed to parse seed list: %w", err)
		}
		return targets, "seed:" + filepath.Base(f.seed), nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.Crawl.FetchTimeout)
	defer cancel()
	listing, err := fetcher.Fetch(fetchCtx, source.DirectoryURL(base))
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch directory listing: %w", err)
	}
	targets, err := source.DiscoverTargets(listing, base)
	if err != nil {
		return nil, "", err
	}
	if len(targets) == 0 {
		return nil, "", errors.New("directory listing contains no company links")
	}
	a.logger.Info("discovered targets", zap.Int("count", len(targets)))
	return targets, "discover", nil
}
