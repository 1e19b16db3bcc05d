package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/cohortwatch/internal/domain"
)

type runRepository struct {
	pool *pgxpool.Pool
}

// NewRunRepository wires an ingestion run log backed by pgxpool.
func NewRunRepository(pool *pgxpool.Pool) RunRepository {
	return &runRepository{pool: pool}
}

func (r *runRepository) Start(ctx context.Context, run domain.IngestionRun) error {
	if r.pool == nil {
		return fmt.Errorf("run repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO ingestion_runs (id, source, started_at, total)
		 VALUES ($1, $2, $3, $4)`,
		run.ID,
		run.Source,
		run.StartedAt.UTC(),
		run.Total,
	)
	if err != nil {
		return fmt.Errorf("failed to record ingestion run start: %w", err)
	}
	return nil
}

func (r *runRepository) Finish(ctx context.Context, run domain.IngestionRun) error {
	if r.pool == nil {
		return fmt.Errorf("run repository not initialized")
	}

	var finishedAt any
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.UTC()
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE ingestion_runs
		 SET finished_at = $2, total = $3, changed = $4, failed = $5, cancelled = $6
		 WHERE id = $1`,
		run.ID,
		finishedAt,
		run.Total,
		run.Changed,
		run.Failed,
		run.Cancelled,
	)
	if err != nil {
		return fmt.Errorf("failed to record ingestion run finish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ingestion run %s: %w", run.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *runRepository) RecordFailure(ctx context.Context, failure domain.IngestionFailure) error {
	if r.pool == nil {
		return fmt.Errorf("run repository not initialized")
	}

	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO ingestion_failures (run_id, external_id, kind, temporary, message, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		failure.RunID,
		failure.ExternalID,
		string(failure.Kind),
		failure.Temporary,
		failure.Message,
		failure.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record ingestion failure: %w", err)
	}
	return nil
}

func (r *runRepository) ListRecent(ctx context.Context, limit int) ([]domain.IngestionRun, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("run repository not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, source, started_at, finished_at, total, changed, failed, cancelled
		 FROM ingestion_runs
		 ORDER BY started_at DESC, id ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.IngestionRun{}
	for rows.Next() {
		var (
			run        domain.IngestionRun
			finishedAt pgtype.Timestamptz
		)
		if scanErr := rows.Scan(
			&run.ID,
			&run.Source,
			&run.StartedAt,
			&finishedAt,
			&run.Total,
			&run.Changed,
			&run.Failed,
			&run.Cancelled,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan ingestion run: %w", scanErr)
		}
		if finishedAt.Valid {
			value := finishedAt.Time
			run.FinishedAt = &value
		}
		runs = append(runs, run)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate ingestion runs: %w", rowsErr)
	}
	return runs, nil
}

func (r *runRepository) ListFailures(ctx context.Context, runID uuid.UUID, limit int) ([]domain.IngestionFailure, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("run repository not initialized")
	}
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, run_id, external_id, kind, temporary, message, occurred_at
		 FROM ingestion_failures
		 WHERE run_id = $1
		 ORDER BY occurred_at ASC, id ASC
		 LIMIT $2`,
		runID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion failures: %w", err)
	}
	defer rows.Close()

	failures := []domain.IngestionFailure{}
	for rows.Next() {
		var (
			failure domain.IngestionFailure
			kind    string
		)
		if scanErr := rows.Scan(
			&failure.ID,
			&failure.RunID,
			&failure.ExternalID,
			&kind,
			&failure.Temporary,
			&failure.Message,
			&failure.OccurredAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan ingestion failure: %w", scanErr)
		}
		failure.Kind = domain.FailureKind(kind)
		failures = append(failures, failure)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate ingestion failures: %w", rowsErr)
	}
	return failures, nil
}
