package changes

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/cohortwatch/internal/domain"
	"github.com/rpattn/cohortwatch/internal/repository"
)

// Materializer persists derived change events so aggregate queries do not
// have to replay every history.
type Materializer struct {
	snapshots repository.SnapshotRepository
	events    repository.ChangeEventRepository
	logger    *zap.Logger
}

// NewMaterializer wires a materializer over the snapshot and change event stores.
func NewMaterializer(
	snapshots repository.SnapshotRepository,
	events repository.ChangeEventRepository,
	logger *zap.Logger,
) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{snapshots: snapshots, events: events, logger: logger}
}

// Record stores the events between prev and cur. Nothing is written when the
// fingerprints match.
func (m *Materializer) Record(ctx context.Context, prev, cur domain.Snapshot) ([]domain.ChangeEvent, error) {
	events := Between(prev, cur)
	if len(events) == 0 {
		return nil, nil
	}
	if err := m.events.Insert(ctx, events); err != nil {
		return nil, domain.Persistence("record change events", err)
	}
	return events, nil
}

// Rebuild recomputes every change event from stored history and replaces the
// materialized table in one step. It returns the number of events written.
func (m *Materializer) Rebuild(ctx context.Context) (int, error) {
	all, err := m.snapshots.ListAll(ctx)
	if err != nil {
		return 0, domain.Persistence("load snapshot history", err)
	}

	events := []domain.ChangeEvent{}
	for entityID, history := range groupByEntity(all) {
		derived := slices.Collect(Extract(history))
		m.logger.Debug("derived change events",
			zap.Stringer("entity_id", entityID),
			zap.Int("snapshots", len(history)),
			zap.Int("events", len(derived)))
		events = append(events, derived...)
	}

	if err := m.events.ReplaceAll(ctx, events); err != nil {
		return 0, domain.Persistence("replace change events", err)
	}

	m.logger.Info("rebuilt change events",
		zap.Int("snapshots", len(all)),
		zap.Int("events", len(events)))
	return len(events), nil
}

func groupByEntity(all []domain.Snapshot) map[uuid.UUID][]domain.Snapshot {
	grouped := make(map[uuid.UUID][]domain.Snapshot)
	for _, snapshot := range all {
		grouped[snapshot.EntityID] = append(grouped[snapshot.EntityID], snapshot)
	}
	for entityID, history := range grouped {
		slices.SortStableFunc(history, func(a, b domain.Snapshot) int {
			switch {
			case a.Before(b):
				return -1
			case b.Before(a):
				return 1
			default:
				return 0
			}
		})
		grouped[entityID] = history
	}
	return grouped
}
