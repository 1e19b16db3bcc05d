package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/cohortwatch/internal/db"
	"github.com/rpattn/cohortwatch/internal/domain"
)

type changeEventRepository struct {
	pool *pgxpool.Pool
}

// NewChangeEventRepository wires a change event repository backed by pgxpool.
func NewChangeEventRepository(pool *pgxpool.Pool) ChangeEventRepository {
	return &changeEventRepository{pool: pool}
}

var changeEventCopyColumns = []string{"entity_id", "category", "field", "old_value", "new_value", "detected_at"}

func (r *changeEventRepository) Insert(ctx context.Context, events []domain.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, event := range events {
		batch.Queue(
			`INSERT INTO change_events (entity_id, category, field, old_value, new_value, detected_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			event.EntityID,
			string(event.Category),
			event.Field,
			event.OldValue,
			event.NewValue,
			event.DetectedAt.UTC(),
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert change event: %w", err)
		}
	}
	return nil
}

func (r *changeEventRepository) Recent(ctx context.Context, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, entity_id, category, field, old_value, new_value, detected_at
		 FROM change_events
		 ORDER BY detected_at DESC, entity_id ASC, id ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent change events: %w", err)
	}
	defer rows.Close()

	events := []domain.ChangeEvent{}
	for rows.Next() {
		var (
			event    domain.ChangeEvent
			category string
		)
		if err := rows.Scan(
			&event.ID,
			&event.EntityID,
			&category,
			&event.Field,
			&event.OldValue,
			&event.NewValue,
			&event.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan change event: %w", err)
		}
		event.Category = domain.ChangeCategory(category)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate change events: %w", err)
	}
	return events, nil
}

func (r *changeEventRepository) CountByCategory(ctx context.Context) ([]domain.CategoryCount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT category, COUNT(*)
		 FROM change_events
		 GROUP BY category
		 ORDER BY COUNT(*) DESC, category ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to count change events: %w", err)
	}
	defer rows.Close()

	counts := []domain.CategoryCount{}
	for rows.Next() {
		var (
			category string
			count    int64
		)
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		counts = append(counts, domain.CategoryCount{Category: domain.ChangeCategory(category), Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate category counts: %w", err)
	}
	return counts, nil
}

// ReplaceAll swaps the materialized table for events in one transaction.
func (r *changeEventRepository) ReplaceAll(ctx context.Context, events []domain.ChangeEvent) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM change_events`); err != nil {
			return fmt.Errorf("failed to clear change events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		source := pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			event := events[i]
			return []any{
				event.EntityID,
				string(event.Category),
				event.Field,
				event.OldValue,
				event.NewValue,
				event.DetectedAt.UTC(),
			}, nil
		})
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"change_events"}, changeEventCopyColumns, source); err != nil {
			return fmt.Errorf("failed to copy change events: %w", err)
		}
		return nil
	})
}
