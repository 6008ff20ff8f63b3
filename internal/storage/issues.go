package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kestrelhq/kestrel/internal/model"
)

// IssueFilter narrows ListIssues. Zero values mean "no constraint".
type IssueFilter struct {
	Status   model.IssueStatus
	Severity model.Severity
	Type     model.IssueType
	Limit    int
	Offset   int
}

// CreateIssue inserts a new issue and returns it with its assigned ID.
func (db *DB) CreateIssue(ctx context.Context, issue model.Issue) (model.Issue, error) {
	if issue.Raw == nil {
		issue.Raw = map[string]any{}
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO issues
		   (type, severity, status, title, description, run_id, deployment_id,
		    affected, raw, narrative, fix, detected_at, resolved_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`,
		string(issue.Type), string(issue.Severity), string(issue.Status),
		issue.Title, issue.Description, issue.RunID, issue.DeploymentID,
		issue.Affected, issue.Raw, issue.Narrative, issue.Fix,
		issue.DetectedAt, issue.ResolvedAt, issue.CreatedAt, issue.UpdatedAt,
	).Scan(&issue.ID)
	if err != nil {
		return model.Issue{}, fmt.Errorf("storage: create issue: %w", err)
	}
	return issue, nil
}

// GetIssue retrieves an issue by ID.
func (db *DB) GetIssue(ctx context.Context, id int64) (model.Issue, error) {
	issue, err := db.scanIssue(db.pool.QueryRow(ctx,
		issueSelectColumns+` FROM issues WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Issue{}, fmt.Errorf("storage: issue not found: %d", id)
		}
		return model.Issue{}, fmt.Errorf("storage: get issue: %w", err)
	}
	return issue, nil
}

// ListIssues returns issues matching the filter ordered by detected_at DESC,
// along with the total count for the filter.
func (db *DB) ListIssues(ctx context.Context, f IssueFilter) ([]model.Issue, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	n := 0
	if f.Status != "" {
		n++
		where += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(f.Status))
	}
	if f.Severity != "" {
		n++
		where += fmt.Sprintf(" AND severity = $%d", n)
		args = append(args, string(f.Severity))
	}
	if f.Type != "" {
		n++
		where += fmt.Sprintf(" AND type = $%d", n)
		args = append(args, string(f.Type))
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM issues`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count issues: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := issueSelectColumns + ` FROM issues` + where +
		fmt.Sprintf(` ORDER BY detected_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, f.Offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list issues: %w", err)
	}
	defer rows.Close()

	var issues []model.Issue
	for rows.Next() {
		issue, err := db.scanIssue(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, total, rows.Err()
}

// ListActiveIssues returns all open and investigating issues, oldest
// first. Both the notification pass and the reminder pass iterate these.
func (db *DB) ListActiveIssues(ctx context.Context) ([]model.Issue, error) {
	rows, err := db.pool.Query(ctx,
		issueSelectColumns+` FROM issues
		 WHERE status IN ('open', 'investigating')
		 ORDER BY detected_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list active issues: %w", err)
	}
	defer rows.Close()

	var issues []model.Issue
	for rows.Next() {
		issue, err := db.scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// HasActiveIssue reports whether an open or investigating issue of the
// given type already exists against the same run or deployment. Used to
// avoid filing duplicate issues on every poll.
func (db *DB) HasActiveIssue(ctx context.Context, t model.IssueType, runID, deploymentID *int64) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM issues
		   WHERE status IN ('open', 'investigating') AND type = $1
		     AND run_id IS NOT DISTINCT FROM $2
		     AND deployment_id IS NOT DISTINCT FROM $3
		 )`,
		string(t), runID, deploymentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: check active issue: %w", err)
	}
	return exists, nil
}

// UpdateIssueStatus advances an issue through its lifecycle. ResolvedAt is
// stamped exactly when the new status is resolved or false_positive and
// cleared otherwise.
func (db *DB) UpdateIssueStatus(ctx context.Context, id int64, status model.IssueStatus) error {
	now := time.Now().UTC()
	var resolvedAt *time.Time
	if !status.Active() {
		resolvedAt = &now
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE issues SET status = $1, resolved_at = $2, updated_at = $3 WHERE id = $4`,
		string(status), resolvedAt, now, id,
	)
	if err != nil {
		return fmt.Errorf("storage: update issue status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: issue not found: %d", id)
	}
	return nil
}

// SetIssueFix attaches or replaces the suggested fix on an issue.
func (db *DB) SetIssueFix(ctx context.Context, id int64, fix model.SuggestedFix) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE issues SET fix = $1, updated_at = $2 WHERE id = $3`,
		fix, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: set issue fix: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: issue not found: %d", id)
	}
	return nil
}

const issueSelectColumns = `SELECT id, type, severity, status, title, description, run_id,
	deployment_id, affected, raw, narrative, fix, detected_at, resolved_at, created_at, updated_at`

func (db *DB) scanIssue(row pgx.Row) (model.Issue, error) {
	var issue model.Issue
	err := row.Scan(
		&issue.ID, &issue.Type, &issue.Severity, &issue.Status, &issue.Title,
		&issue.Description, &issue.RunID, &issue.DeploymentID, &issue.Affected,
		&issue.Raw, &issue.Narrative, &issue.Fix, &issue.DetectedAt,
		&issue.ResolvedAt, &issue.CreatedAt, &issue.UpdatedAt,
	)
	return issue, err
}
