// Package history keeps the append-only snapshot log of every entity and
// guarantees that two consecutive snapshots never carry the same fingerprint.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/cohortwatch/internal/domain"
	"github.com/rpattn/cohortwatch/internal/fingerprint"
	"github.com/rpattn/cohortwatch/internal/repository"
)

// AppendResult reports what Append did.
type AppendResult struct {
	// Written is false when the observation matched the latest snapshot.
	Written bool
	// Snapshot is the new snapshot, or the existing latest one when nothing was written.
	Snapshot domain.Snapshot
	// Previous is the latest snapshot before this append, nil for a first observation.
	Previous *domain.Snapshot
}

// Store appends observations to entity history. Callers must serialize
// appends for the same entity; the orchestrator does this with a keyed lock.
type Store struct {
	snapshots repository.SnapshotRepository
}

// NewStore creates a snapshot store.
func NewStore(snapshots repository.SnapshotRepository) *Store {
	return &Store{snapshots: snapshots}
}

// Append writes obs as a new snapshot unless its fingerprint equals the
// latest stored one.
func (s *Store) Append(ctx context.Context, entityID uuid.UUID, obs domain.Observation, observedAt time.Time) (AppendResult, error) {
	obs = obs.Normalize()
	if err := obs.Validate(); err != nil {
		return AppendResult{}, err
	}

	fp, err := fingerprint.OfObservation(obs)
	if err != nil {
		return AppendResult{}, &domain.ValidationError{Field: "observation", Reason: err.Error()}
	}

	latest, err := s.snapshots.Latest(ctx, entityID)
	if err != nil {
		return AppendResult{}, domain.Persistence("load latest snapshot", err)
	}
	if latest != nil && latest.Fingerprint == fp {
		return AppendResult{Written: false, Snapshot: *latest}, nil
	}

	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	written, err := s.snapshots.Insert(ctx, domain.Snapshot{
		EntityID:    entityID,
		Observation: obs,
		CapturedAt:  observedAt.UTC(),
		Fingerprint: fp,
	})
	if err != nil {
		return AppendResult{}, domain.Persistence("insert snapshot", err)
	}

	return AppendResult{Written: true, Snapshot: written, Previous: latest}, nil
}

// History returns every snapshot of an entity, oldest first.
func (s *Store) History(ctx context.Context, entityID uuid.UUID) ([]domain.Snapshot, error) {
	snapshots, err := s.snapshots.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, domain.Persistence("list snapshot history", err)
	}
	return snapshots, nil
}
