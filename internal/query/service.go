// Package query serves ranked search, entity detail, leaderboards and change
// trends over the stored history.
package query

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rpattn/cohortwatch/internal/changes"
	"github.com/rpattn/cohortwatch/internal/domain"
	"github.com/rpattn/cohortwatch/internal/entityloader"
	"github.com/rpattn/cohortwatch/internal/repository"
)

const (
	DefaultLimit     = 20
	MaxLimit         = 100
	LeaderboardSize  = 10
	maxQueryLength   = 256
	defaultRunsLimit = 20
)

var tracer = otel.Tracer("cohortwatch/query")

// Service answers read requests. It holds no state of its own; every call
// borrows a pooled connection through the repositories.
type Service struct {
	entities repository.EntityRepository
	ranking  repository.RankingRepository
	scores   repository.ScoreRepository
	events   repository.ChangeEventRepository
	runs     repository.RunRepository
}

// NewService wires the query service. runs may be nil when the run log is not exposed.
func NewService(
	entities repository.EntityRepository,
	ranking repository.RankingRepository,
	scores repository.ScoreRepository,
	events repository.ChangeEventRepository,
	runs repository.RunRepository,
) *Service {
	return &Service{entities: entities, ranking: ranking, scores: scores, events: events, runs: runs}
}

// NormalizeSearch applies defaults and rejects out of range parameters.
func NormalizeSearch(params domain.SearchParams) (domain.SearchParams, error) {
	params.Query = strings.Join(strings.Fields(params.Query), " ")
	switch {
	case len(params.Query) > maxQueryLength:
		return params, &domain.ValidationError{Field: "q", Reason: fmt.Sprintf("longer than %d characters", maxQueryLength)}
	case params.Limit < 0:
		return params, &domain.ValidationError{Field: "limit", Reason: "must not be negative"}
	case params.Offset < 0:
		return params, &domain.ValidationError{Field: "offset", Reason: "must not be negative"}
	case math.IsNaN(params.MinScore) || math.IsInf(params.MinScore, 0):
		return params, &domain.ValidationError{Field: "min_score", Reason: "must be a finite number"}
	}
	if params.Limit == 0 {
		params.Limit = DefaultLimit
	}
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}
	return params, nil
}

// Search returns entities matching the query, highest momentum first, then
// by relevance, then by id. An empty query matches every entity.
func (s *Service) Search(ctx context.Context, params domain.SearchParams) ([]domain.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "query.Search")
	defer span.End()

	params, err := NormalizeSearch(params)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(
		attribute.String("search.query", params.Query),
		attribute.Int("search.limit", params.Limit),
		attribute.Int("search.offset", params.Offset),
	)

	results, err := s.ranking.Search(ctx, params)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	return results, nil
}

// Detail returns an entity with its history newest first, the change events
// derived from that same history, and its score or an explicit absence marker.
func (s *Service) Detail(ctx context.Context, id uuid.UUID) (domain.EntityDetail, error) {
	ctx, span := tracer.Start(ctx, "query.Detail", trace.WithAttributes(attribute.String("entity.id", id.String())))
	defer span.End()

	record, err := s.ranking.LoadDetail(ctx, id)
	if err != nil {
		return domain.EntityDetail{}, fail(span, err)
	}

	snapshots := slices.Clone(record.History)
	slices.Reverse(snapshots)

	score := domain.NoScore()
	if record.Score != nil {
		score = domain.ScoreOf(*record.Score)
	}

	return domain.EntityDetail{
		Entity:    record.Entity,
		Snapshots: snapshots,
		Changes:   changes.NewestFirst(record.History),
		Score:     score,
	}, nil
}

// Leaderboard builds the momentum, stability and recent change lists. Each
// list is ordered independently; entity summaries for all three come from a
// single batched lookup.
func (s *Service) Leaderboard(ctx context.Context) (domain.Leaderboard, error) {
	ctx, span := tracer.Start(ctx, "query.Leaderboard")
	defer span.End()

	momentum, err := s.scores.TopByMomentum(ctx, LeaderboardSize)
	if err != nil {
		return domain.Leaderboard{}, fail(span, err)
	}
	stable, err := s.scores.TopByStability(ctx, LeaderboardSize)
	if err != nil {
		return domain.Leaderboard{}, fail(span, err)
	}
	recent, err := s.events.Recent(ctx, LeaderboardSize)
	if err != nil {
		return domain.Leaderboard{}, fail(span, err)
	}

	ids := make([]uuid.UUID, 0, len(momentum)+len(stable)+len(recent))
	for _, score := range momentum {
		ids = append(ids, score.EntityID)
	}
	for _, score := range stable {
		ids = append(ids, score.EntityID)
	}
	for _, event := range recent {
		ids = append(ids, event.EntityID)
	}

	loader := entityloader.FromContext(ctx)
	if loader == nil {
		loader = entityloader.NewEntityLoader(s.entities)
	}
	summaries, err := loader.LoadSummaries(ctx, ids)
	if err != nil {
		return domain.Leaderboard{}, fail(span, err)
	}

	board := domain.Leaderboard{
		TopMomentum:   make([]domain.RankedScore, 0, len(momentum)),
		MostStable:    make([]domain.RankedScore, 0, len(stable)),
		RecentChanges: make([]domain.RecentChange, 0, len(recent)),
	}
	for _, score := range momentum {
		board.TopMomentum = append(board.TopMomentum, domain.RankedScore{Entity: summaries[score.EntityID], Value: score.Momentum})
	}
	for _, score := range stable {
		board.MostStable = append(board.MostStable, domain.RankedScore{Entity: summaries[score.EntityID], Value: score.Stability})
	}
	for _, event := range recent {
		board.RecentChanges = append(board.RecentChanges, domain.RecentChange{Entity: summaries[event.EntityID], Change: event})
	}
	return board, nil
}

// Trends counts change events per category, most frequent first.
func (s *Service) Trends(ctx context.Context) ([]domain.CategoryCount, error) {
	ctx, span := tracer.Start(ctx, "query.Trends")
	defer span.End()

	counts, err := s.events.CountByCategory(ctx)
	if err != nil {
		return nil, fail(span, err)
	}
	return counts, nil
}

// Runs lists recent ingestion runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]domain.IngestionRun, error) {
	ctx, span := tracer.Start(ctx, "query.Runs")
	defer span.End()

	if s.runs == nil {
		return []domain.IngestionRun{}, nil
	}
	if limit < 0 {
		return nil, fail(span, &domain.ValidationError{Field: "limit", Reason: "must not be negative"})
	}
	if limit == 0 {
		limit = defaultRunsLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	runs, err := s.runs.ListRecent(ctx, limit)
	if err != nil {
		return nil, fail(span, err)
	}
	return runs, nil
}

// RunFailures lists the item failures recorded for one run.
func (s *Service) RunFailures(ctx context.Context, runID uuid.UUID) ([]domain.IngestionFailure, error) {
	ctx, span := tracer.Start(ctx, "query.RunFailures")
	defer span.End()

	if s.runs == nil {
		return []domain.IngestionFailure{}, nil
	}
	failures, err := s.runs.ListFailures(ctx, runID, 0)
	if err != nil {
		return nil, fail(span, err)
	}
	return failures, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
