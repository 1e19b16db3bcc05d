package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/cohortwatch/internal/domain"
)

func TestSearchOrdersByMomentumThenRankThenID(t *testing.T) {
	db := New()
	ctx := context.Background()
	now := time.Now()

	ids := map[string]uuid.UUID{}
	for _, ext := range []string{"a", "b", "c"} {
		id, err := db.Entities().Upsert(ctx, ext, "Robot "+ext, now)
		require.NoError(t, err)
		ids[ext] = id
	}
	db.SetScore(domain.Score{EntityID: ids["a"], Momentum: 2})
	db.SetScore(domain.Score{EntityID: ids["b"], Momentum: 2})
	db.SetScore(domain.Score{EntityID: ids["c"], Momentum: 5})

	results, err := db.Ranking().Search(ctx, domain.SearchParams{Query: "robot", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, ids["c"], results[0].Entity.ID)

	tied := []uuid.UUID{results[1].Entity.ID, results[2].Entity.ID}
	assert.Less(t, tied[0].String(), tied[1].String())
}

func TestSearchRequiresEveryTerm(t *testing.T) {
	db := New()
	ctx := context.Background()
	now := time.Now()

	both, err := db.Entities().Upsert(ctx, "both", "Warehouse robots", now)
	require.NoError(t, err)
	_, err = db.Entities().Upsert(ctx, "one", "Warehouse software", now)
	require.NoError(t, err)

	results, err := db.Ranking().Search(ctx, domain.SearchParams{Query: "warehouse robots", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, both, results[0].Entity.ID)
	assert.Positive(t, results[0].Rank)

	results, err = db.Ranking().Search(ctx, domain.SearchParams{Query: "robots warehouse", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestFailOnInjectsErrors(t *testing.T) {
	db := New()
	boom := errors.New("disk full")
	db.FailOn(OpEntityUpsert, boom)

	_, err := db.Entities().Upsert(context.Background(), "x", "", time.Now())
	assert.ErrorIs(t, err, boom)

	db.FailOn(OpEntityUpsert, nil)
	_, err = db.Entities().Upsert(context.Background(), "x", "", time.Now())
	assert.NoError(t, err)
}

func TestLoadDetailUnknownEntity(t *testing.T) {
	_, err := New().Ranking().LoadDetail(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
