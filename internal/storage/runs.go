package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kestrelhq/kestrel/internal/model"
)

// CreateRun inserts a pipeline run keyed by its external ID. Runs are
// immutable once recorded: if a row with the same external ID already
// exists the insert is a no-op and created is false.
func (db *DB) CreateRun(ctx context.Context, run model.RunRecord) (model.RunRecord, bool, error) {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO pipeline_runs
		   (external_id, workflow_name, status, conclusion, run_created_at,
		    started_at, completed_at, duration_seconds, branch, commit_sha,
		    commit_message, actor, jobs, artifacts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (external_id) DO NOTHING
		 RETURNING id`,
		run.ExternalID, run.WorkflowName, run.Status, string(run.Conclusion),
		run.RunCreatedAt, run.StartedAt, run.CompletedAt, run.DurationSeconds,
		run.Branch, run.CommitSHA, run.CommitMessage, run.Actor,
		run.Jobs, run.Artifacts, run.CreatedAt, run.UpdatedAt,
	).Scan(&run.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict path: the run was already recorded.
			existing, getErr := db.GetRunByExternalID(ctx, run.ExternalID)
			if getErr != nil {
				return model.RunRecord{}, false, getErr
			}
			return existing, false, nil
		}
		return model.RunRecord{}, false, fmt.Errorf("storage: create run: %w", err)
	}
	return run, true, nil
}

// GetRun retrieves a run by its internal ID.
func (db *DB) GetRun(ctx context.Context, id int64) (model.RunRecord, error) {
	run, err := db.scanRun(db.pool.QueryRow(ctx,
		runSelectColumns+` FROM pipeline_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunRecord{}, fmt.Errorf("storage: run not found: %d", id)
		}
		return model.RunRecord{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// GetRunByExternalID retrieves a run by the external identifier assigned
// by the pipeline provider.
func (db *DB) GetRunByExternalID(ctx context.Context, externalID string) (model.RunRecord, error) {
	run, err := db.scanRun(db.pool.QueryRow(ctx,
		runSelectColumns+` FROM pipeline_runs WHERE external_id = $1`, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunRecord{}, fmt.Errorf("storage: run not found: %s", externalID)
		}
		return model.RunRecord{}, fmt.Errorf("storage: get run by external id: %w", err)
	}
	return run, nil
}

// ListRuns returns runs ordered by created_at DESC with the total count.
func (db *DB) ListRuns(ctx context.Context, limit, offset int) ([]model.RunRecord, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pipeline_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count runs: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		runSelectColumns+` FROM pipeline_runs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		r, err := db.scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}

const runSelectColumns = `SELECT id, external_id, workflow_name, status, conclusion, run_created_at,
	started_at, completed_at, duration_seconds, branch, commit_sha, commit_message, actor,
	jobs, artifacts, created_at, updated_at`

func (db *DB) scanRun(row pgx.Row) (model.RunRecord, error) {
	var r model.RunRecord
	err := row.Scan(
		&r.ID, &r.ExternalID, &r.WorkflowName, &r.Status, &r.Conclusion, &r.RunCreatedAt,
		&r.StartedAt, &r.CompletedAt, &r.DurationSeconds, &r.Branch, &r.CommitSHA,
		&r.CommitMessage, &r.Actor, &r.Jobs, &r.Artifacts, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}
