package query

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/cohortwatch/internal/changes"
	"github.com/rpattn/cohortwatch/internal/domain"
	"github.com/rpattn/cohortwatch/internal/history"
	"github.com/rpattn/cohortwatch/internal/repository"
	"github.com/rpattn/cohortwatch/internal/repository/memory"
)

var t0 = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	db      *memory.DB
	store   *history.Store
	service *Service
}

func newFixture() *fixture {
	db := memory.New()
	return &fixture{
		db:      db,
		store:   history.NewStore(db.Snapshots()),
		service: NewService(db.Entities(), db.Ranking(), db.Scores(), db.ChangeEvents(), db.Runs()),
	}
}

func (f *fixture) entity(t *testing.T, externalID, name string, observations ...domain.Observation) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id, err := f.db.Entities().Upsert(ctx, externalID, name, t0)
	require.NoError(t, err)

	materializer := changes.NewMaterializer(f.db.Snapshots(), f.db.ChangeEvents(), nil)
	for i, obs := range observations {
		result, err := f.store.Append(ctx, id, obs, t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		if result.Written && result.Previous != nil {
			_, err := materializer.Record(ctx, *result.Previous, result.Snapshot)
			require.NoError(t, err)
		}
	}
	return id
}

func TestNormalizeSearch(t *testing.T) {
	params, err := NormalizeSearch(domain.SearchParams{Query: "  fintech   api "})
	require.NoError(t, err)
	assert.Equal(t, "fintech api", params.Query)
	assert.Equal(t, DefaultLimit, params.Limit)

	params, err = NormalizeSearch(domain.SearchParams{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, params.Limit)

	for _, bad := range []domain.SearchParams{
		{Limit: -1},
		{Offset: -5},
		{MinScore: math.NaN()},
	} {
		_, err := NormalizeSearch(bad)
		var validationErr *domain.ValidationError
		assert.ErrorAs(t, err, &validationErr, "%+v", bad)
	}
}

func TestSearchOrdersByMomentumWithTiesBrokenByRelevanceThenID(t *testing.T) {
	f := newFixture()
	strong := f.entity(t, "strong", "Strong", domain.Observation{Description: "fintech api platform"})
	weak := f.entity(t, "weak", "Weak", domain.Observation{Description: "fintech api tooling for large enterprise teams"})
	leader := f.entity(t, "leader", "Leader", domain.Observation{Description: "fintech api"})
	partial := f.entity(t, "partial", "Partial", domain.Observation{Description: "fintech tools"})
	f.entity(t, "other", "Other", domain.Observation{Description: "robots"})
	f.db.SetScore(domain.Score{EntityID: partial, Momentum: 9})

	f.db.SetScore(domain.Score{EntityID: strong, Momentum: 1})
	f.db.SetScore(domain.Score{EntityID: weak, Momentum: 1})
	f.db.SetScore(domain.Score{EntityID: leader, Momentum: 7})

	results, err := f.service.Search(context.Background(), domain.SearchParams{Query: "fintech api"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, leader, results[0].Entity.ID)
	assert.Equal(t, strong, results[1].Entity.ID)
	assert.Equal(t, weak, results[2].Entity.ID)

	results, err = f.service.Search(context.Background(), domain.SearchParams{Query: "fintech", MinScore: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, partial, results[0].Entity.ID)
	assert.Equal(t, leader, results[1].Entity.ID)
}

func TestSearchEmptyQueryMatchesAll(t *testing.T) {
	f := newFixture()
	f.entity(t, "a", "A", domain.Observation{Stage: "seed"})
	f.entity(t, "b", "B")

	results, err := f.service.Search(context.Background(), domain.SearchParams{})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = f.service.Search(context.Background(), domain.SearchParams{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDetailSeedThenSeriesA(t *testing.T) {
	f := newFixture()
	id := f.entity(t, "ext-42", "Rocket",
		domain.Observation{Stage: "seed"},
		domain.Observation{Stage: "series-a"},
	)

	detail, err := f.service.Detail(context.Background(), id)
	require.NoError(t, err)

	require.Len(t, detail.Snapshots, 2)
	assert.Equal(t, "series-a", detail.Snapshots[0].Observation.Stage)
	assert.Equal(t, "seed", detail.Snapshots[1].Observation.Stage)
	require.Len(t, detail.Changes, 1)
	assert.Equal(t, domain.ChangeStageTransition, detail.Changes[0].Category)
	assert.Equal(t, "seed", detail.Changes[0].OldValue)
	assert.Equal(t, "series-a", detail.Changes[0].NewValue)
	assert.False(t, detail.Score.Computed())

	encoded, err := json.Marshal(detail)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"score":{"computed":false}`)

	f.db.SetScore(domain.Score{EntityID: id, Momentum: 2, Stability: 0.5, ComputedAt: t0})
	detail, err = f.service.Detail(context.Background(), id)
	require.NoError(t, err)
	score, ok := detail.Score.Get()
	require.True(t, ok)
	assert.InDelta(t, 2.0, score.Momentum, 1e-9)
}

func TestDetailUnknownEntity(t *testing.T) {
	_, err := newFixture().service.Detail(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLeaderboardListsAreIndependent(t *testing.T) {
	f := newFixture()
	fast := f.entity(t, "fast", "Fast", domain.Observation{Stage: "seed"}, domain.Observation{Stage: "series-a"})
	steady := f.entity(t, "steady", "Steady", domain.Observation{Stage: "seed"})
	f.db.SetScore(domain.Score{EntityID: fast, Momentum: 9, Stability: 0.1})
	f.db.SetScore(domain.Score{EntityID: steady, Momentum: 1, Stability: 0.9})

	board, err := f.service.Leaderboard(context.Background())
	require.NoError(t, err)

	require.Len(t, board.TopMomentum, 2)
	assert.Equal(t, "Fast", board.TopMomentum[0].Entity.DisplayName)
	assert.InDelta(t, 9.0, board.TopMomentum[0].Value, 1e-9)

	require.Len(t, board.MostStable, 2)
	assert.Equal(t, "Steady", board.MostStable[0].Entity.DisplayName)

	require.Len(t, board.RecentChanges, 1)
	assert.Equal(t, fast, board.RecentChanges[0].Entity.ID)
	assert.Equal(t, domain.ChangeStageTransition, board.RecentChanges[0].Change.Category)
}

func TestLeaderboardEmpty(t *testing.T) {
	board, err := newFixture().service.Leaderboard(context.Background())
	require.NoError(t, err)
	assert.Empty(t, board.TopMomentum)
	assert.Empty(t, board.MostStable)
	assert.Empty(t, board.RecentChanges)
}

func TestTrends(t *testing.T) {
	f := newFixture()
	f.entity(t, "a", "A",
		domain.Observation{Stage: "seed", Location: "Paris"},
		domain.Observation{Stage: "series-a", Location: "Paris"},
		domain.Observation{Stage: "series-b", Location: "Lyon"},
	)

	trends, err := f.service.Trends(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.CategoryCount{
		{Category: domain.ChangeStageTransition, Count: 2},
		{Category: domain.ChangeRelocation, Count: 1},
	}, trends)
}

type failingScores struct {
	repository.ScoreRepository
	err error
}

func (f failingScores) TopByStability(context.Context, int) ([]domain.Score, error) {
	return nil, f.err
}

func TestLeaderboardPropagatesErrors(t *testing.T) {
	db := memory.New()
	boom := errors.New("pool exhausted")
	service := NewService(db.Entities(), db.Ranking(), failingScores{ScoreRepository: db.Scores(), err: boom}, db.ChangeEvents(), nil)

	_, err := service.Leaderboard(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRuns(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	older := domain.IngestionRun{ID: uuid.New(), Source: "cli", StartedAt: t0}
	newer := domain.IngestionRun{ID: uuid.New(), Source: "cli", StartedAt: t0.Add(time.Hour)}
	require.NoError(t, f.db.Runs().Start(ctx, older))
	require.NoError(t, f.db.Runs().Start(ctx, newer))

	runs, err := f.service.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)

	_, err = f.service.Runs(ctx, -1)
	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	none, err := NewService(f.db.Entities(), f.db.Ranking(), f.db.Scores(), f.db.ChangeEvents(), nil).Runs(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}
