package entityloader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/cohortwatch/internal/domain"
	"github.com/rpattn/cohortwatch/internal/repository"
)

// EntityLoader batches entity lookups issued while assembling one response.
// Create one per request; its cache must not outlive the request.
type EntityLoader struct {
	Loader *dataloader.Loader
}

func NewEntityLoader(repo repository.EntityRepository) *EntityLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		ids := make([]uuid.UUID, 0, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: fmt.Errorf("invalid UUID: %w", err)}
				continue
			}
			ids = append(ids, id)
		}

		entities, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			for i := range results {
				if results[i] == nil {
					results[i] = &dataloader.Result{Error: err}
				}
			}
			return results
		}

		byID := make(map[string]domain.EntitySummary, len(entities))
		for _, e := range entities {
			byID[e.ID.String()] = e.Summary()
		}

		// Results must line up with keys.
		for i, k := range keys {
			if results[i] != nil {
				continue
			}
			if summary, ok := byID[k.String()]; ok {
				results[i] = &dataloader.Result{Data: summary}
			} else {
				results[i] = &dataloader.Result{Error: fmt.Errorf("entity %s: %w", k.String(), domain.ErrNotFound)}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(time.Millisecond))

	return &EntityLoader{Loader: loader}
}

// LoadSummaries resolves ids in one batch and returns them keyed by id.
func (l *EntityLoader) LoadSummaries(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.EntitySummary, error) {
	out := make(map[uuid.UUID]domain.EntitySummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, id.String())
	}

	values, errs := l.Loader.LoadMany(ctx, dataloader.NewKeysFromStrings(keys))()
	for i, value := range values {
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		summary, ok := value.(domain.EntitySummary)
		if !ok {
			return nil, fmt.Errorf("unexpected loader value %T for %s", value, keys[i])
		}
		out[summary.ID] = summary
	}
	return out, nil
}

type ctxKey string

const entityLoaderKey ctxKey = "entityLoader"

// WithLoader stores a request scoped loader in ctx.
func WithLoader(ctx context.Context, loader *EntityLoader) context.Context {
	return context.WithValue(ctx, entityLoaderKey, loader)
}

// FromContext retrieves the request scoped loader, or nil.
func FromContext(ctx context.Context) *EntityLoader {
	if l, ok := ctx.Value(entityLoaderKey).(*EntityLoader); ok {
		return l
	}
	return nil
}
