package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/cohortwatch/internal/domain"
	"github.com/rpattn/cohortwatch/internal/repository"
)

type rankingRepo struct{ d *DB }

// Search approximates full-text relevance with the share of query terms that
// appear in the entity's name and latest snapshot text.
func (r rankingRepo) Search(_ context.Context, params domain.SearchParams) ([]domain.SearchResult, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(params.Query))
	latest := r.d.latestByEntity()

	results := []domain.SearchResult{}
	for id, entity := range r.d.entities {
		document := strings.ToLower(entity.DisplayName + " " + entity.ExternalID)
		if snapshot, ok := latest[id]; ok {
			document += " " + strings.ToLower(snapshot.Observation.SearchText())
		}

		rank, ok := termRank(document, terms)
		if !ok {
			continue
		}

		momentum := 0.0
		if score, ok := r.d.scores[id]; ok {
			momentum = score.Momentum
		}
		if momentum < params.MinScore {
			continue
		}

		results = append(results, domain.SearchResult{Entity: entity.Summary(), Momentum: momentum, Rank: rank})
	}

	slices.SortFunc(results, func(a, b domain.SearchResult) int {
		switch {
		case a.Momentum != b.Momentum:
			return compareDesc(a.Momentum, b.Momentum)
		case a.Rank != b.Rank:
			return compareDesc(a.Rank, b.Rank)
		default:
			return strings.Compare(a.Entity.ID.String(), b.Entity.ID.String())
		}
	})

	if params.Offset >= len(results) {
		return []domain.SearchResult{}, nil
	}
	results = results[params.Offset:]
	if params.Limit > 0 && len(results) > params.Limit {
		results = results[:params.Limit]
	}
	return results, nil
}

// termRank requires every term to occur in document, as plainto_tsquery
// does. Rank is the share of document words that are query term hits.
func termRank(document string, terms []string) (float64, bool) {
	if len(terms) == 0 {
		return 0, true
	}
	hits := 0
	for _, term := range terms {
		n := strings.Count(document, term)
		if n == 0 {
			return 0, false
		}
		hits += n
	}
	return float64(hits) / float64(max(len(strings.Fields(document)), 1)), true
}

func (d *DB) latestByEntity() map[uuid.UUID]domain.Snapshot {
	latest := make(map[uuid.UUID]domain.Snapshot)
	for _, s := range d.snapshots {
		if current, ok := latest[s.EntityID]; !ok || current.Before(s) {
			latest[s.EntityID] = s
		}
	}
	return latest
}

func compareDesc(a, b float64) int {
	if a > b {
		return -1
	}
	return 1
}

func (r rankingRepo) LoadDetail(_ context.Context, id uuid.UUID) (repository.DetailRecord, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()

	entity, ok := r.d.entities[id]
	if !ok {
		return repository.DetailRecord{}, fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}

	record := repository.DetailRecord{Entity: entity, History: []domain.Snapshot{}}
	for _, s := range r.d.snapshots {
		if s.EntityID == id {
			record.History = append(record.History, s)
		}
	}
	sortHistory(record.History)
	if score, ok := r.d.scores[id]; ok {
		record.Score = &score
	}
	return record, nil
}

type runRepo struct{ d *DB }

func (r runRepo) Start(_ context.Context, run domain.IngestionRun) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.failure(OpRunStart); err != nil {
		return err
	}
	r.d.runs[run.ID] = run
	return nil
}

func (r runRepo) Finish(_ context.Context, run domain.IngestionRun) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.runs[run.ID]; !ok {
		return fmt.Errorf("ingestion run %s: %w", run.ID, domain.ErrNotFound)
	}
	r.d.runs[run.ID] = run
	return nil
}

func (r runRepo) RecordFailure(_ context.Context, failure domain.IngestionFailure) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if err := r.d.failure(OpRunFailure); err != nil {
		return err
	}
	r.d.nextFailureID++
	failure.ID = r.d.nextFailureID
	r.d.failures = append(r.d.failures, failure)
	return nil
}

func (r runRepo) ListRecent(_ context.Context, limit int) ([]domain.IngestionRun, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]domain.IngestionRun, 0, len(r.d.runs))
	for _, run := range r.d.runs {
		out = append(out, run)
	}
	slices.SortFunc(out, func(a, b domain.IngestionRun) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r runRepo) ListFailures(_ context.Context, runID uuid.UUID, limit int) ([]domain.IngestionFailure, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	if limit <= 0 {
		limit = 200
	}
	out := []domain.IngestionFailure{}
	for _, failure := range r.d.failures {
		if failure.RunID == runID {
			out = append(out, failure)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
