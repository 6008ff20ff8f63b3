package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kestrelhq/kestrel/internal/model"
)

// RecordAction inserts an audit-trail row and returns it. Audit writes are
// best-effort from the caller's point of view: a failure here must never
// abort the operation being audited.
func (db *DB) RecordAction(ctx context.Context, a model.AgentAction) (model.AgentAction, error) {
	if a.Data == nil {
		a.Data = map[string]any{}
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO agent_actions (type, status, description, issue_id, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		string(a.Type), string(a.Status), a.Description, a.IssueID, a.Data, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return model.AgentAction{}, fmt.Errorf("storage: record action: %w", err)
	}
	return a, nil
}

// ListActions returns audit rows ordered by created_at DESC.
func (db *DB) ListActions(ctx context.Context, limit, offset int) ([]model.AgentAction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, type, status, description, issue_id, data, created_at
		 FROM agent_actions ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list actions: %w", err)
	}
	defer rows.Close()

	var out []model.AgentAction
	for rows.Next() {
		a, err := db.scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (db *DB) scanAction(row pgx.Row) (model.AgentAction, error) {
	var a model.AgentAction
	err := row.Scan(&a.ID, &a.Type, &a.Status, &a.Description, &a.IssueID, &a.Data, &a.CreatedAt)
	return a, err
}
