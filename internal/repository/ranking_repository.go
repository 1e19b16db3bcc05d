package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/cohortwatch/internal/domain"
)

type rankingRepository struct {
	pool *pgxpool.Pool
}

// NewRankingRepository wires the read side used by search and entity detail.
func NewRankingRepository(pool *pgxpool.Pool) RankingRepository {
	return &rankingRepository{pool: pool}
}

// searchSQL ranks entities by momentum first and relevance second. An empty
// query matches every entity with rank 0.
const searchSQL = `
WITH latest AS (
    SELECT DISTINCT ON (s.entity_id) s.entity_id, s.search_vector
    FROM snapshots s
    ORDER BY s.entity_id, s.captured_at DESC, s.id DESC
),
candidates AS (
    SELECT e.internal_id,
           e.external_id,
           e.display_name,
           COALESCE(sc.momentum, 0)::double precision AS momentum,
           e.name_vector || COALESCE(l.search_vector, ''::tsvector) AS document
    FROM entities e
    LEFT JOIN latest l ON l.entity_id = e.internal_id
    LEFT JOIN scores sc ON sc.entity_id = e.internal_id
)
SELECT c.internal_id,
       c.external_id,
       c.display_name,
       c.momentum,
       CASE WHEN $1 = '' THEN 0
            ELSE ts_rank(c.document, plainto_tsquery('english', $1))
       END::double precision AS rank
FROM candidates c
WHERE ($1 = '' OR c.document @@ plainto_tsquery('english', $1))
  AND c.momentum >= $2
ORDER BY c.momentum DESC, rank DESC, c.internal_id ASC
LIMIT $3 OFFSET $4`

func (r *rankingRepository) Search(ctx context.Context, params domain.SearchParams) ([]domain.SearchResult, error) {
	rows, err := r.pool.Query(ctx, searchSQL, params.Query, params.MinScore, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()

	results := []domain.SearchResult{}
	for rows.Next() {
		var result domain.SearchResult
		if err := rows.Scan(
			&result.Entity.ID,
			&result.Entity.ExternalID,
			&result.Entity.DisplayName,
			&result.Momentum,
			&result.Rank,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}
	return results, nil
}

// LoadDetail reads entity, history and score inside one read-only repeatable
// read transaction so all three reflect the same point in time.
func (r *rankingRepository) LoadDetail(ctx context.Context, id uuid.UUID) (DetailRecord, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return DetailRecord{}, fmt.Errorf("failed to begin detail transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var record DetailRecord
	record.Entity, err = scanEntity(tx.QueryRow(ctx,
		`SELECT internal_id, external_id, display_name, first_seen_at, last_seen_at
		 FROM entities WHERE internal_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DetailRecord{}, fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
		}
		return DetailRecord{}, fmt.Errorf("failed to load entity: %w", err)
	}

	record.History, err = listSnapshots(ctx, tx,
		`SELECT `+snapshotColumns+`
		 FROM snapshots
		 WHERE entity_id = $1
		 ORDER BY captured_at ASC, id ASC`, id)
	if err != nil {
		return DetailRecord{}, err
	}

	var score domain.Score
	err = tx.QueryRow(ctx,
		`SELECT entity_id, momentum, stability, computed_at FROM scores WHERE entity_id = $1`, id,
	).Scan(&score.EntityID, &score.Momentum, &score.Stability, &score.ComputedAt)
	switch {
	case err == nil:
		record.Score = &score
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return DetailRecord{}, fmt.Errorf("failed to load score: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DetailRecord{}, fmt.Errorf("failed to commit detail transaction: %w", err)
	}
	return record, nil
}
