package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/rpattn/cohortwatch/internal/changes"
	"github.com/rpattn/cohortwatch/internal/db"
	"github.com/rpattn/cohortwatch/internal/history"
	"github.com/rpattn/cohortwatch/internal/identity"
	"github.com/rpattn/cohortwatch/internal/ingestion"
	"github.com/rpattn/cohortwatch/internal/query"
	"github.com/rpattn/cohortwatch/internal/repository"
	"github.com/rpattn/cohortwatch/internal/repository/memory"
	"github.com/rpattn/cohortwatch/internal/source"
)

// stores bundles one backend's repositories.
type stores struct {
	entities  repository.EntityRepository
	snapshots repository.SnapshotRepository
	events    repository.ChangeEventRepository
	scores    repository.ScoreRepository
	ranking   repository.RankingRepository
	runs      repository.RunRepository
	conn      *db.Connection
}

func openPostgres(ctx context.Context, cfg db.Config) (*stores, error) {
	conn, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &stores{
		entities:  repository.NewEntityRepository(conn.Pool),
		snapshots: repository.NewSnapshotRepository(conn.Pool),
		events:    repository.NewChangeEventRepository(conn.Pool),
		scores:    repository.NewScoreRepository(conn.Pool),
		ranking:   repository.NewRankingRepository(conn.Pool),
		runs:      repository.NewRunRepository(conn.Pool),
		conn:      conn,
	}, nil
}

func openMemory() *stores {
	mem := memory.New()
	return &stores{
		entities:  mem.Entities(),
		snapshots: mem.Snapshots(),
		events:    mem.ChangeEvents(),
		scores:    mem.Scores(),
		ranking:   mem.Ranking(),
		runs:      mem.Runs(),
	}
}

func (s *stores) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *stores) queryService() *query.Service {
	return query.NewService(s.entities, s.ranking, s.scores, s.events, s.runs)
}

func (s *stores) orchestrator(a *app, fetcher source.Fetcher, label string) *ingestion.Orchestrator {
	crawl := a.cfg.Crawl
	return ingestion.NewOrchestrator(
		fetcher,
		identity.NewResolver(s.entities),
		history.NewStore(s.snapshots),
		changes.NewMaterializer(s.snapshots, s.events, a.logger),
		s.runs,
		ingestion.Options{
			Concurrency:       crawl.Concurrency,
			FetchTimeout:      crawl.FetchTimeout,
			RequestsPerSecond: crawl.RequestsPerSecond,
			Source:            label,
		},
		a.logger.Named("ingestion"),
	)
}

// fetcher returns a fetcher over a saved page directory, or the live site when dir is empty.
func (a *app) fetcher(dir string) (source.Fetcher, error) {
	if dir != "" {
		a.logger.Info("using offline pages", zap.String("dir", dir))
		return source.LoadStaticDir(dir, a.cfg.Crawl.BaseURL)
	}
	return source.NewHTTPFetcher(source.HTTPFetcherOptions{
		UserAgent:    a.cfg.Crawl.UserAgent,
		Timeout:      a.cfg.Crawl.FetchTimeout,
		MaxBodyBytes: a.cfg.Crawl.MaxBodyBytes,
	}), nil
}
