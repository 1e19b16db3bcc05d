package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionRun records the outcome of one crawl over the entity list.
type IngestionRun struct {
	ID         uuid.UUID  `json:"id"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int        `json:"total"`
	Changed    int        `json:"changed"`
	Failed     int        `json:"failed"`
	Cancelled  bool       `json:"cancelled"`
}

// IngestionFailure captures one item that could not be observed during a run.
type IngestionFailure struct {
	ID         int64       `json:"id,omitempty"`
	RunID      uuid.UUID   `json:"run_id"`
	ExternalID string      `json:"external_id"`
	Kind       FailureKind `json:"kind"`
	Temporary  bool        `json:"temporary"`
	Message    string      `json:"message"`
	OccurredAt time.Time   `json:"occurred_at"`
}
