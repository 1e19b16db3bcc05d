package domain

import (
	"time"

	"github.com/google/uuid"
)

// Entity represents one tracked organization with a durable internal identity.
type Entity struct {
	ID          uuid.UUID `json:"id"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// EntitySummary is the compact projection used in ranked listings.
type EntitySummary struct {
	ID          uuid.UUID `json:"id"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
}

// Summary returns the listing projection of the entity.
func (e Entity) Summary() EntitySummary {
	return EntitySummary{
		ID:          e.ID,
		ExternalID:  e.ExternalID,
		DisplayName: e.DisplayName,
	}
}

// Observed returns a copy of the entity with last seen advanced to observedAt.
// Last seen never moves backwards.
func (e Entity) Observed(observedAt time.Time) Entity {
	if observedAt.After(e.LastSeenAt) {
		e.LastSeenAt = observedAt
	}
	return e
}
