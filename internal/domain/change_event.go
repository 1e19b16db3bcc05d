package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangeCategory labels the kind of difference between two adjacent snapshots.
type ChangeCategory string

const (
	ChangeDescriptionUpdate ChangeCategory = "description-update"
	ChangeTagsUpdate        ChangeCategory = "tags-update"
	ChangeStageTransition   ChangeCategory = "stage-transition"
	ChangeTeamSize          ChangeCategory = "team-size-change"
	ChangeRelocation        ChangeCategory = "relocation"
	ChangeBatchReassignment ChangeCategory = "batch-reassignment"
	// ChangeSchemaRevision is emitted when fingerprints differ only because the
	// observation schema version changed.
	ChangeSchemaRevision ChangeCategory = "schema-revision"
)

// ChangeEvent is a derived record of one field differing between two consecutive snapshots.
type ChangeEvent struct {
	ID         int64          `json:"id,omitempty"`
	EntityID   uuid.UUID      `json:"entity_id"`
	Category   ChangeCategory `json:"category"`
	Field      string         `json:"field"`
	OldValue   string         `json:"old_value"`
	NewValue   string         `json:"new_value"`
	DetectedAt time.Time      `json:"detected_at"`
}

// RecentChange pairs a change event with the entity it belongs to.
type RecentChange struct {
	Entity EntitySummary `json:"entity"`
	Change ChangeEvent   `json:"change"`
}

// CategoryCount is one row of the change trend aggregation.
type CategoryCount struct {
	Category ChangeCategory `json:"category"`
	Count    int64          `json:"count"`
}
