package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/cohortwatch/internal/domain"
)

// entityRepository implements EntityRepository interface
type entityRepository struct {
	pool *pgxpool.Pool
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(pool *pgxpool.Pool) EntityRepository {
	return &entityRepository{pool: pool}
}

const upsertEntitySQL = `
INSERT INTO entities (external_id, display_name, first_seen_at, last_seen_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (external_id) DO UPDATE
SET last_seen_at = GREATEST(entities.last_seen_at, EXCLUDED.last_seen_at),
    display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), entities.display_name)
RETURNING internal_id`

// Upsert resolves an external id in a single statement so concurrent callers
// racing on the same id cannot create two rows.
func (r *entityRepository) Upsert(ctx context.Context, externalID, displayName string, observedAt time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, upsertEntitySQL, externalID, displayName, observedAt.UTC()).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert entity %q: %w", externalID, err)
	}
	return id, nil
}

// GetByID retrieves an entity by internal id
func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT internal_id, external_id, display_name, first_seen_at, last_seen_at
		 FROM entities WHERE internal_id = $1`, id)

	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Entity{}, fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
		}
		return domain.Entity{}, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// GetByIDs retrieves multiple entities by their ids. Unknown ids are skipped.
func (r *entityRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Entity, error) {
	if len(ids) == 0 {
		return []domain.Entity{}, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT internal_id, external_id, display_name, first_seen_at, last_seen_at
		 FROM entities WHERE internal_id = ANY($1)
		 ORDER BY internal_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get entities by IDs: %w", err)
	}
	defer rows.Close()

	entities := []domain.Entity{}
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entities: %w", err)
	}
	return entities, nil
}

func scanEntity(row pgx.Row) (domain.Entity, error) {
	var entity domain.Entity
	err := row.Scan(
		&entity.ID,
		&entity.ExternalID,
		&entity.DisplayName,
		&entity.FirstSeenAt,
		&entity.LastSeenAt,
	)
	return entity, err
}
