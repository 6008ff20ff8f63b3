package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kestrelhq/kestrel/internal/model"
)

// UpsertDeployment inserts or updates the deployment row keyed by
// (name, namespace) and returns the stored record. Deployments are
// mutate-on-poll: every observation overwrites the mutable fields.
func (db *DB) UpsertDeployment(ctx context.Context, d model.DeploymentRecord) (model.DeploymentRecord, error) {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO deployments
		   (name, namespace, image, status, desired_replicas, available_replicas,
		    ready_replicas, conditions, provider, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (name, namespace) DO UPDATE SET
		   image = EXCLUDED.image,
		   status = EXCLUDED.status,
		   desired_replicas = EXCLUDED.desired_replicas,
		   available_replicas = EXCLUDED.available_replicas,
		   ready_replicas = EXCLUDED.ready_replicas,
		   conditions = EXCLUDED.conditions,
		   provider = EXCLUDED.provider,
		   updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		d.Name, d.Namespace, d.Image, string(d.Status),
		d.DesiredReplicas, d.AvailableReplicas, d.ReadyReplicas,
		d.Conditions, d.Provider, d.CreatedAt, time.Now().UTC(),
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return model.DeploymentRecord{}, fmt.Errorf("storage: upsert deployment: %w", err)
	}
	return d, nil
}

// GetDeployment retrieves a deployment by its internal ID.
func (db *DB) GetDeployment(ctx context.Context, id int64) (model.DeploymentRecord, error) {
	d, err := db.scanDeployment(db.pool.QueryRow(ctx,
		deploymentSelectColumns+` FROM deployments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DeploymentRecord{}, fmt.Errorf("storage: deployment not found: %d", id)
		}
		return model.DeploymentRecord{}, fmt.Errorf("storage: get deployment: %w", err)
	}
	return d, nil
}

// ListDeployments returns all tracked deployments ordered by namespace
// then name.
func (db *DB) ListDeployments(ctx context.Context) ([]model.DeploymentRecord, error) {
	rows, err := db.pool.Query(ctx,
		deploymentSelectColumns+` FROM deployments ORDER BY namespace, name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list deployments: %w", err)
	}
	defer rows.Close()

	var out []model.DeploymentRecord
	for rows.Next() {
		d, err := db.scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan deployment: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const deploymentSelectColumns = `SELECT id, name, namespace, image, status, desired_replicas,
	available_replicas, ready_replicas, conditions, provider, created_at, updated_at`

func (db *DB) scanDeployment(row pgx.Row) (model.DeploymentRecord, error) {
	var d model.DeploymentRecord
	err := row.Scan(
		&d.ID, &d.Name, &d.Namespace, &d.Image, &d.Status, &d.DesiredReplicas,
		&d.AvailableReplicas, &d.ReadyReplicas, &d.Conditions, &d.Provider,
		&d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}
