package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/cohortwatch/internal/domain"
)

// EntityRepository defines the interface for tracked entity operations
type EntityRepository interface {
	// Upsert creates the entity on first sight or advances last seen, atomically.
	Upsert(ctx context.Context, externalID, displayName string, observedAt time.Time) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Entity, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Entity, error)
}

// SnapshotRepository defines the append-only snapshot history operations
type SnapshotRepository interface {
	// Latest returns the most recent snapshot of an entity, or nil when it has none.
	Latest(ctx context.Context, entityID uuid.UUID) (*domain.Snapshot, error)
	Insert(ctx context.Context, snapshot domain.Snapshot) (domain.Snapshot, error)
	// ListByEntity returns the history of one entity, oldest first.
	ListByEntity(ctx context.Context, entityID uuid.UUID) ([]domain.Snapshot, error)
	// ListAll returns every snapshot ordered by entity, then history order.
	ListAll(ctx context.Context) ([]domain.Snapshot, error)
}

// ChangeEventRepository stores materialized change events
type ChangeEventRepository interface {
	Insert(ctx context.Context, events []domain.ChangeEvent) error
	Recent(ctx context.Context, limit int) ([]domain.ChangeEvent, error)
	CountByCategory(ctx context.Context) ([]domain.CategoryCount, error)
	ReplaceAll(ctx context.Context, events []domain.ChangeEvent) error
}

// ScoreRepository reads scores written by the external score job
type ScoreRepository interface {
	Get(ctx context.Context, entityID uuid.UUID) (*domain.Score, error)
	TopByMomentum(ctx context.Context, limit int) ([]domain.Score, error)
	TopByStability(ctx context.Context, limit int) ([]domain.Score, error)
}

// RankingRepository serves the read side of ranked search and entity detail
type RankingRepository interface {
	Search(ctx context.Context, params domain.SearchParams) ([]domain.SearchResult, error)
	// LoadDetail reads the entity, its ascending history and its score from one consistent view.
	LoadDetail(ctx context.Context, id uuid.UUID) (DetailRecord, error)
}

// DetailRecord is the raw material of an entity detail view.
type DetailRecord struct {
	Entity  domain.Entity
	History []domain.Snapshot
	Score   *domain.Score
}

// RunRepository stores ingestion runs and their per-item failures for diagnosis.
type RunRepository interface {
	Start(ctx context.Context, run domain.IngestionRun) error
	Finish(ctx context.Context, run domain.IngestionRun) error
	RecordFailure(ctx context.Context, failure domain.IngestionFailure) error
	ListRecent(ctx context.Context, limit int) ([]domain.IngestionRun, error)
	ListFailures(ctx context.Context, runID uuid.UUID, limit int) ([]domain.IngestionFailure, error)
}
