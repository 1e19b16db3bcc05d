package domain

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot captures one immutable observation of an entity at a point in time.
type Snapshot struct {
	ID          int64       `json:"id"`
	EntityID    uuid.UUID   `json:"entity_id"`
	Observation Observation `json:"observation"`
	CapturedAt  time.Time   `json:"captured_at"`
	Fingerprint string      `json:"fingerprint"`
}

// Before reports whether s precedes other in history order (captured_at, then id).
func (s Snapshot) Before(other Snapshot) bool {
	if s.CapturedAt.Equal(other.CapturedAt) {
		return s.ID < other.ID
	}
	return s.CapturedAt.Before(other.CapturedAt)
}
