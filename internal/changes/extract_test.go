package changes

import (
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/cohortwatch/internal/domain"
	"github.com/rpattn/cohortwatch/internal/fingerprint"
)

var t0 = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

func snapshotOf(t *testing.T, entityID uuid.UUID, id int64, obs domain.Observation, at time.Time) domain.Snapshot {
	t.Helper()
	obs = obs.Normalize()
	fp, err := fingerprint.OfObservation(obs)
	require.NoError(t, err)
	return domain.Snapshot{ID: id, EntityID: entityID, Observation: obs, CapturedAt: at, Fingerprint: fp}
}

func TestBetweenSingleFieldChange(t *testing.T) {
	entityID := uuid.New()
	prev := snapshotOf(t, entityID, 1, domain.Observation{Stage: "seed", Location: "Berlin"}, t0)
	cur := snapshotOf(t, entityID, 2, domain.Observation{Stage: "series-a", Location: "Berlin"}, t0.Add(time.Hour))

	events := Between(prev, cur)

	require.Len(t, events, 1)
	assert.Equal(t, domain.ChangeEvent{
		EntityID:   entityID,
		Category:   domain.ChangeStageTransition,
		Field:      domain.FieldStage,
		OldValue:   "seed",
		NewValue:   "series-a",
		DetectedAt: cur.CapturedAt,
	}, events[0])
}

func TestBetweenEqualFingerprintsYieldNothing(t *testing.T) {
	entityID := uuid.New()
	prev := snapshotOf(t, entityID, 1, domain.Observation{Tags: []string{"b", "a"}}, t0)
	cur := snapshotOf(t, entityID, 2, domain.Observation{Tags: []string{"a", "b"}}, t0.Add(time.Hour))

	assert.Empty(t, Between(prev, cur))
}

func TestBetweenMultipleFieldsKeepFieldOrder(t *testing.T) {
	entityID := uuid.New()
	prev := snapshotOf(t, entityID, 1, domain.Observation{
		Description: "old", Tags: []string{"ai"}, TeamSize: "1-10", Batch: "W23",
	}, t0)
	cur := snapshotOf(t, entityID, 2, domain.Observation{
		Description: "new", Tags: []string{"ai", "devtools"}, TeamSize: "1-10", Batch: "S23",
	}, t0.Add(time.Hour))

	events := Between(prev, cur)

	require.Len(t, events, 3)
	assert.Equal(t, domain.ChangeDescriptionUpdate, events[0].Category)
	assert.Equal(t, domain.ChangeTagsUpdate, events[1].Category)
	assert.Equal(t, `["ai"]`, events[1].OldValue)
	assert.Equal(t, `["ai","devtools"]`, events[1].NewValue)
	assert.Equal(t, domain.ChangeBatchReassignment, events[2].Category)
}

func TestBetweenSchemaOnlyDifference(t *testing.T) {
	entityID := uuid.New()
	prev := snapshotOf(t, entityID, 1, domain.Observation{Stage: "seed"}, t0)
	cur := prev
	cur.ID = 2
	cur.Observation.SchemaVersion = domain.ObservationSchemaVersion + 1
	fp, err := fingerprint.OfObservation(cur.Observation)
	require.NoError(t, err)
	cur.Fingerprint = fp

	events := Between(prev, cur)

	require.Len(t, events, 1)
	assert.Equal(t, domain.ChangeSchemaRevision, events[0].Category)
	assert.Equal(t, "1", events[0].OldValue)
	assert.Equal(t, "2", events[0].NewValue)
}

func TestExtractIsRestartable(t *testing.T) {
	entityID := uuid.New()
	history := []domain.Snapshot{
		snapshotOf(t, entityID, 1, domain.Observation{Stage: "seed"}, t0),
		snapshotOf(t, entityID, 2, domain.Observation{Stage: "series-a"}, t0.Add(time.Hour)),
		snapshotOf(t, entityID, 3, domain.Observation{Stage: "series-a", Location: "London"}, t0.Add(2*time.Hour)),
	}

	seq := Extract(history)
	first := slices.Collect(seq)
	second := slices.Collect(seq)

	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.Equal(t, domain.ChangeStageTransition, first[0].Category)
	assert.Equal(t, domain.ChangeRelocation, first[1].Category)

	newest := NewestFirst(history)
	require.Len(t, newest, 2)
	assert.Equal(t, domain.ChangeRelocation, newest[0].Category)
}

func TestExtractSingleSnapshotYieldsNothing(t *testing.T) {
	history := []domain.Snapshot{snapshotOf(t, uuid.New(), 1, domain.Observation{Stage: "seed"}, t0)}

	assert.Empty(t, slices.Collect(Extract(history)))
	assert.Empty(t, slices.Collect(Extract(nil)))
}

func TestExtractStopsWhenConsumerStops(t *testing.T) {
	entityID := uuid.New()
	history := []domain.Snapshot{
		snapshotOf(t, entityID, 1, domain.Observation{Stage: "a", Batch: "x"}, t0),
		snapshotOf(t, entityID, 2, domain.Observation{Stage: "b", Batch: "y"}, t0.Add(time.Hour)),
	}

	count := 0
	for range Extract(history) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestCategoryForEveryField(t *testing.T) {
	for _, field := range domain.ObservationFields {
		_, ok := CategoryFor(field)
		assert.True(t, ok, field)
	}
	_, ok := CategoryFor("website")
	assert.False(t, ok)
}
