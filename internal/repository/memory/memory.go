// Package memory provides in-process implementations of the repository
// interfaces. The crawl command uses it for dry runs and tests use it as a
// stand-in for Postgres.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/cohortwatch/internal/domain"
	"github.com/rpattn/cohortwatch/internal/repository"
)

// Operation names accepted by FailOn.
const (
	OpEntityUpsert       = "entities.upsert"
	OpSnapshotLatest     = "snapshots.latest"
	OpSnapshotInsert     = "snapshots.insert"
	OpChangeEventInsert  = "change_events.insert"
	OpChangeEventReplace = "change_events.replace"
	OpRunStart           = "runs.start"
	OpRunFailure         = "runs.failure"
)

// DB is a mutex guarded set of tables shared by the repositories it hands out.
type DB struct {
	mu             sync.RWMutex
	entities       map[uuid.UUID]domain.Entity
	byExternalID   map[string]uuid.UUID
	snapshots      []domain.Snapshot
	nextSnapshotID int64
	events         []domain.ChangeEvent
	nextEventID    int64
	scores         map[uuid.UUID]domain.Score
	runs           map[uuid.UUID]domain.IngestionRun
	failures       []domain.IngestionFailure
	nextFailureID  int64
	failOn         map[string]error
}

// New returns an empty database.
func New() *DB {
	return &DB{
		entities:     make(map[uuid.UUID]domain.Entity),
		byExternalID: make(map[string]uuid.UUID),
		scores:       make(map[uuid.UUID]domain.Score),
		runs:         make(map[uuid.UUID]domain.IngestionRun),
		failOn:       make(map[string]error),
	}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (d *DB) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failOn, op)
		return
	}
	d.failOn[op] = err
}

func (d *DB) failure(op string) error {
	return d.failOn[op]
}

// SetScore stores a score the way the external score job would.
func (d *DB) SetScore(score domain.Score) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scores[score.EntityID] = score
}

// Entities returns the entity repository view.
func (d *DB) Entities() repository.EntityRepository { return entityRepo{d} }

// Snapshots returns the snapshot repository view.
func (d *DB) Snapshots() repository.SnapshotRepository { return snapshotRepo{d} }

// ChangeEvents returns the change event repository view.
func (d *DB) ChangeEvents() repository.ChangeEventRepository { return changeEventRepo{d} }

// Scores returns the score repository view.
func (d *DB) Scores() repository.ScoreRepository { return scoreRepo{d} }

// Ranking returns the search and detail repository view.
func (d *DB) Ranking() repository.RankingRepository { return rankingRepo{d} }

// Runs returns the ingestion run log view.
func (d *DB) Runs() repository.RunRepository { return runRepo{d} }

type entityRepo struct{ d *DB }

func (r entityRepo) Upsert(_ context.Context, externalID, displayName string, observedAt time.Time) (uuid.UUID, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.failure(OpEntityUpsert); err != nil {
		return uuid.Nil, err
	}

	observedAt = observedAt.UTC()
	if id, ok := r.d.byExternalID[externalID]; ok {
		entity := r.d.entities[id].Observed(observedAt)
		if displayName != "" {
			entity.DisplayName = displayName
		}
		r.d.entities[id] = entity
		return id, nil
	}

	id := uuid.New()
	r.d.entities[id] = domain.Entity{
		ID:          id,
		ExternalID:  externalID,
		DisplayName: displayName,
		FirstSeenAt: observedAt,
		LastSeenAt:  observedAt,
	}
	r.d.byExternalID[externalID] = id
	return id, nil
}

func (r entityRepo) GetByID(_ context.Context, id uuid.UUID) (domain.Entity, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	entity, ok := r.d.entities[id]
	if !ok {
		return domain.Entity{}, fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}
	return entity, nil
}

func (r entityRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.Entity, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := []domain.Entity{}
	for _, id := range ids {
		if entity, ok := r.d.entities[id]; ok {
			out = append(out, entity)
		}
	}
	return out, nil
}

type snapshotRepo struct{ d *DB }

func (r snapshotRepo) Latest(_ context.Context, entityID uuid.UUID) (*domain.Snapshot, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	if err := r.d.failure(OpSnapshotLatest); err != nil {
		return nil, err
	}

	var latest *domain.Snapshot
	for i := range r.d.snapshots {
		s := r.d.snapshots[i]
		if s.EntityID != entityID {
			continue
		}
		if latest == nil || latest.Before(s) {
			latest = &s
		}
	}
	return latest, nil
}

func (r snapshotRepo) Insert(_ context.Context, snapshot domain.Snapshot) (domain.Snapshot, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.failure(OpSnapshotInsert); err != nil {
		return domain.Snapshot{}, err
	}
	if _, ok := r.d.entities[snapshot.EntityID]; !ok {
		return domain.Snapshot{}, fmt.Errorf("snapshot references unknown entity %s", snapshot.EntityID)
	}

	r.d.nextSnapshotID++
	snapshot.ID = r.d.nextSnapshotID
	snapshot.Observation.Tags = slices.Clone(snapshot.Observation.Tags)
	r.d.snapshots = append(r.d.snapshots, snapshot)
	return snapshot, nil
}

func (r snapshotRepo) ListByEntity(_ context.Context, entityID uuid.UUID) ([]domain.Snapshot, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := []domain.Snapshot{}
	for _, s := range r.d.snapshots {
		if s.EntityID == entityID {
			out = append(out, s)
		}
	}
	sortHistory(out)
	return out, nil
}

func (r snapshotRepo) ListAll(_ context.Context) ([]domain.Snapshot, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := slices.Clone(r.d.snapshots)
	slices.SortStableFunc(out, func(a, b domain.Snapshot) int {
		if c := strings.Compare(a.EntityID.String(), b.EntityID.String()); c != 0 {
			return c
		}
		return historyOrder(a, b)
	})
	return out, nil
}

func sortHistory(history []domain.Snapshot) {
	slices.SortStableFunc(history, historyOrder)
}

func historyOrder(a, b domain.Snapshot) int {
	switch {
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	default:
		return 0
	}
}

type changeEventRepo struct{ d *DB }

func (r changeEventRepo) Insert(_ context.Context, events []domain.ChangeEvent) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.failure(OpChangeEventInsert); err != nil {
		return err
	}
	r.d.appendEvents(events)
	return nil
}

func (d *DB) appendEvents(events []domain.ChangeEvent) {
	for _, event := range events {
		d.nextEventID++
		event.ID = d.nextEventID
		d.events = append(d.events, event)
	}
}

func (r changeEventRepo) Recent(_ context.Context, limit int) ([]domain.ChangeEvent, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	out := slices.Clone(r.d.events)
	slices.SortStableFunc(out, func(a, b domain.ChangeEvent) int {
		if c := b.DetectedAt.Compare(a.DetectedAt); c != 0 {
			return c
		}
		if c := strings.Compare(a.EntityID.String(), b.EntityID.String()); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r changeEventRepo) CountByCategory(_ context.Context) ([]domain.CategoryCount, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	counts := map[domain.ChangeCategory]int64{}
	for _, event := range r.d.events {
		counts[event.Category]++
	}
	out := make([]domain.CategoryCount, 0, len(counts))
	for category, count := range counts {
		out = append(out, domain.CategoryCount{Category: category, Count: count})
	}
	slices.SortFunc(out, func(a, b domain.CategoryCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(string(a.Category), string(b.Category))
	})
	return out, nil
}

func (r changeEventRepo) ReplaceAll(_ context.Context, events []domain.ChangeEvent) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.failure(OpChangeEventReplace); err != nil {
		return err
	}
	r.d.events = nil
	r.d.nextEventID = 0
	r.d.appendEvents(events)
	return nil
}

type scoreRepo struct{ d *DB }

func (r scoreRepo) Get(_ context.Context, entityID uuid.UUID) (*domain.Score, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	score, ok := r.d.scores[entityID]
	if !ok {
		return nil, nil
	}
	return &score, nil
}

func (r scoreRepo) TopByMomentum(_ context.Context, limit int) ([]domain.Score, error) {
	return r.top(limit, func(s domain.Score) float64 { return s.Momentum }), nil
}

func (r scoreRepo) TopByStability(_ context.Context, limit int) ([]domain.Score, error) {
	return r.top(limit, func(s domain.Score) float64 { return s.Stability }), nil
}

func (r scoreRepo) top(limit int, key func(domain.Score) float64) []domain.Score {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	out := make([]domain.Score, 0, len(r.d.scores))
	for _, score := range r.d.scores {
		out = append(out, score)
	}
	slices.SortFunc(out, func(a, b domain.Score) int {
		if ka, kb := key(a), key(b); ka != kb {
			if ka > kb {
				return -1
			}
			return 1
		}
		return strings.Compare(a.EntityID.String(), b.EntityID.String())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
