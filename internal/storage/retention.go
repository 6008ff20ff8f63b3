package storage

import (
	"context"
	"fmt"
	"time"
)

// RetentionResult reports how many rows each sweep removed.
type RetentionResult struct {
	Runs          int64
	Issues        int64
	Notifications int64
	Actions       int64
}

// Total returns the number of rows removed across all tables.
func (r RetentionResult) Total() int64 {
	return r.Runs + r.Issues + r.Notifications + r.Actions
}

// SweepOlderThan deletes aged rows in dependency order: notifications for
// removed issues first, then resolved issues, runs, and audit actions.
// Deployments are current state and are never swept. Open issues are kept
// regardless of age.
func (db *DB) SweepOlderThan(ctx context.Context, cutoff time.Time) (RetentionResult, error) {
	var res RetentionResult

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("storage: begin sweep: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return res, fmt.Errorf("storage: sweep notifications: %w", err)
	}
	res.Notifications = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM issues
		 WHERE created_at < $1 AND status IN ('resolved', 'false_positive')`, cutoff)
	if err != nil {
		return res, fmt.Errorf("storage: sweep issues: %w", err)
	}
	res.Issues = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM pipeline_runs
		 WHERE created_at < $1
		   AND NOT EXISTS (SELECT 1 FROM issues WHERE issues.run_id = pipeline_runs.id)`,
		cutoff)
	if err != nil {
		return res, fmt.Errorf("storage: sweep runs: %w", err)
	}
	res.Runs = tag.RowsAffected()

	tag, err = tx.Exec(ctx,
		`DELETE FROM agent_actions WHERE created_at < $1`, cutoff)
	if err != nil {
		return res, fmt.Errorf("storage: sweep actions: %w", err)
	}
	res.Actions = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("storage: commit sweep: %w", err)
	}
	return res, nil
}
