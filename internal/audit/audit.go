// Package audit records who changed what, for the dashboard's audit viewer.
package audit

import (
	"context"
	"database/sql"
	"time"
)

// Entry is one audit row.
type Entry struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Entity    string    `json:"entity"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Log writes and reads the audit trail.
type Log struct {
	db *sql.DB
}

// NewLog creates the audit log over an existing connection.
func NewLog(db *sql.DB) *Log {
	return &Log{db: db}
}

// Record appends an entry. Failures are the caller's to log; the attendance
// engines never depend on the audit write succeeding.
func (l *Log) Record(ctx context.Context, actor, action, entity, detail string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor, action, entity, detail)
		VALUES ($1, $2, $3, $4)
	`, actor, action, entity, detail)
	return err
}

// Recent returns the newest entries for the audit viewer.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, actor, action, entity, detail, created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Entity, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
