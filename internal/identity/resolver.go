// Package identity maps the external identifiers used by the directory site
// onto durable internal entity ids.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/cohortwatch/internal/domain"
	"github.com/rpattn/cohortwatch/internal/repository"
)

// Resolver assigns an internal id the first time an external id is seen and
// returns the same id on every later call.
type Resolver struct {
	entities repository.EntityRepository
}

// NewResolver creates a resolver over the entity store.
func NewResolver(entities repository.EntityRepository) *Resolver {
	return &Resolver{entities: entities}
}

// Resolve returns the internal id for externalID, creating the entity when it
// is new and advancing its last seen time otherwise. A blank display name keeps
// the stored one.
func (r *Resolver) Resolve(ctx context.Context, externalID, displayName string, observedAt time.Time) (uuid.UUID, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return uuid.Nil, &domain.ValidationError{Field: "external_id", Reason: "must not be empty"}
	}
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	id, err := r.entities.Upsert(ctx, externalID, strings.TrimSpace(displayName), observedAt)
	if err != nil {
		return uuid.Nil, domain.Persistence("resolve entity "+externalID, err)
	}
	return id, nil
}
