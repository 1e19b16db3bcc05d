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

type scoreRepository struct {
	pool *pgxpool.Pool
}

// NewScoreRepository wires a read-only repository over the scores table.
func NewScoreRepository(pool *pgxpool.Pool) ScoreRepository {
	return &scoreRepository{pool: pool}
}

// Get returns nil when no score has been computed for the entity yet.
func (r *scoreRepository) Get(ctx context.Context, entityID uuid.UUID) (*domain.Score, error) {
	var score domain.Score
	err := r.pool.QueryRow(ctx,
		`SELECT entity_id, momentum, stability, computed_at FROM scores WHERE entity_id = $1`,
		entityID,
	).Scan(&score.EntityID, &score.Momentum, &score.Stability, &score.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get score: %w", err)
	}
	return &score, nil
}

func (r *scoreRepository) TopByMomentum(ctx context.Context, limit int) ([]domain.Score, error) {
	return r.top(ctx,
		`SELECT entity_id, momentum, stability, computed_at
		 FROM scores
		 ORDER BY momentum DESC, entity_id ASC
		 LIMIT $1`, limit)
}

func (r *scoreRepository) TopByStability(ctx context.Context, limit int) ([]domain.Score, error) {
	return r.top(ctx,
		`SELECT entity_id, momentum, stability, computed_at
		 FROM scores
		 ORDER BY stability DESC, entity_id ASC
		 LIMIT $1`, limit)
}

func (r *scoreRepository) top(ctx context.Context, sql string, limit int) ([]domain.Score, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}
	defer rows.Close()

	scores := []domain.Score{}
	for rows.Next() {
		var score domain.Score
		if err := rows.Scan(&score.EntityID, &score.Momentum, &score.Stability, &score.ComputedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scores: %w", err)
	}
	return scores, nil
}
