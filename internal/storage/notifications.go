package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kestrelhq/kestrel/internal/model"
)

// CreateNotification inserts a delivery audit row and returns it.
func (db *DB) CreateNotification(ctx context.Context, n model.NotificationRecord) (model.NotificationRecord, error) {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO notifications
		   (issue_id, channel, subject, body, status, error, reminder, sent_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		n.IssueID, string(n.Channel), n.Subject, n.Body, string(n.Status),
		n.Error, n.Reminder, n.SentAt, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return model.NotificationRecord{}, fmt.Errorf("storage: create notification: %w", err)
	}
	return n, nil
}

// LastAlertAt returns the sent_at of the most recent successfully sent
// ordinary alert for an issue, or nil when none exists. The 1h dedup
// window is evaluated against this timestamp; reminder rows never match.
func (db *DB) LastAlertAt(ctx context.Context, issueID int64) (*time.Time, error) {
	var t *time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT MAX(sent_at) FROM notifications
		 WHERE issue_id = $1 AND NOT reminder AND sent_at IS NOT NULL`, issueID,
	).Scan(&t)
	if err != nil {
		return nil, fmt.Errorf("storage: last alert at: %w", err)
	}
	return t, nil
}

// LastReminderAt returns the sent_at of the most recent successfully sent
// reminder for an issue, or nil when none exists. The reminder cooldown is
// evaluated against this timestamp; ordinary alert rows never match.
func (db *DB) LastReminderAt(ctx context.Context, issueID int64) (*time.Time, error) {
	var t *time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT MAX(sent_at) FROM notifications
		 WHERE issue_id = $1 AND reminder AND sent_at IS NOT NULL`, issueID,
	).Scan(&t)
	if err != nil {
		return nil, fmt.Errorf("storage: last reminder at: %w", err)
	}
	return t, nil
}

// ListNotificationsByIssue returns all delivery rows for an issue, newest
// first.
func (db *DB) ListNotificationsByIssue(ctx context.Context, issueID int64) ([]model.NotificationRecord, error) {
	rows, err := db.pool.Query(ctx,
		notificationSelectColumns+` FROM notifications WHERE issue_id = $1 ORDER BY created_at DESC`,
		issueID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list notifications: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationRecord
	for rows.Next() {
		n, err := db.scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

const notificationSelectColumns = `SELECT id, issue_id, channel, subject, body, status, error,
	reminder, sent_at, created_at`

func (db *DB) scanNotification(row pgx.Row) (model.NotificationRecord, error) {
	var n model.NotificationRecord
	err := row.Scan(
		&n.ID, &n.IssueID, &n.Channel, &n.Subject, &n.Body, &n.Status,
		&n.Error, &n.Reminder, &n.SentAt, &n.CreatedAt,
	)
	return n, err
}
