package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/cohortwatch/internal/domain"
)

type snapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository wires a snapshot history repository backed by pgxpool.
func NewSnapshotRepository(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepository{pool: pool}
}

const snapshotColumns = `id, entity_id, schema_version, description, tags, stage, team_size, location, batch, captured_at, fingerprint`

func (r *snapshotRepository) Latest(ctx context.Context, entityID uuid.UUID) (*domain.Snapshot, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+`
		 FROM snapshots
		 WHERE entity_id = $1
		 ORDER BY captured_at DESC, id DESC
		 LIMIT 1`, entityID)

	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	return &snapshot, nil
}

func (r *snapshotRepository) Insert(ctx context.Context, snapshot domain.Snapshot) (domain.Snapshot, error) {
	obs := snapshot.Observation
	tagsJSON, err := json.Marshal(obs.Tags)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to marshal tags: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO snapshots
		 (entity_id, schema_version, description, tags, stage, team_size, location, batch, captured_at, fingerprint)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		snapshot.EntityID,
		obs.SchemaVersion,
		obs.Description,
		tagsJSON,
		obs.Stage,
		obs.TeamSize,
		obs.Location,
		obs.Batch,
		snapshot.CapturedAt.UTC(),
		snapshot.Fingerprint,
	).Scan(&snapshot.ID)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return snapshot, nil
}

func (r *snapshotRepository) ListByEntity(ctx context.Context, entityID uuid.UUID) ([]domain.Snapshot, error) {
	return listSnapshots(ctx, r.pool,
		`SELECT `+snapshotColumns+`
		 FROM snapshots
		 WHERE entity_id = $1
		 ORDER BY captured_at ASC, id ASC`, entityID)
}

func (r *snapshotRepository) ListAll(ctx context.Context) ([]domain.Snapshot, error) {
	return listSnapshots(ctx, r.pool,
		`SELECT `+snapshotColumns+`
		 FROM snapshots
		 ORDER BY entity_id, captured_at ASC, id ASC`)
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listSnapshots(ctx context.Context, q rowQuerier, sql string, args ...any) ([]domain.Snapshot, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []domain.Snapshot{}
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snapshots, nil
}

func scanSnapshot(row pgx.Row) (domain.Snapshot, error) {
	var (
		snapshot domain.Snapshot
		tagsJSON []byte
	)
	obs := &snapshot.Observation
	if err := row.Scan(
		&snapshot.ID,
		&snapshot.EntityID,
		&obs.SchemaVersion,
		&obs.Description,
		&tagsJSON,
		&obs.Stage,
		&obs.TeamSize,
		&obs.Location,
		&obs.Batch,
		&snapshot.CapturedAt,
		&snapshot.Fingerprint,
	); err != nil {
		return domain.Snapshot{}, err
	}

	obs.Tags = []string{}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &obs.Tags); err != nil {
			return domain.Snapshot{}, fmt.Errorf("failed to decode tags for snapshot %d: %w", snapshot.ID, err)
		}
	}
	return snapshot, nil
}
