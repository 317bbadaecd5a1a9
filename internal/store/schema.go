package store

import "context"

// schema is applied on startup; every statement is idempotent.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
	`CREATE TABLE IF NOT EXISTS students (
		id UUID PRIMARY KEY,
		student_code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		starts_at TIMESTAMPTZ NOT NULL,
		ends_at TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'upcoming'
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id UUID PRIMARY KEY,
		student_id UUID NOT NULL REFERENCES students(id),
		session_id UUID NOT NULL REFERENCES sessions(id),
		status TEXT NOT NULL DEFAULT 'absent',
		check_in_time TIMESTAMPTZ,
		learning_start_time TIMESTAMPTZ,
		check_out_time TIMESTAMPTZ,
		notes TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (student_id, session_id)
	)`,
	`CREATE TABLE IF NOT EXISTS parents (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		qr_code TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS parent_students (
		parent_id UUID NOT NULL REFERENCES parents(id),
		student_id UUID NOT NULL REFERENCES students(id),
		PRIMARY KEY (parent_id, student_id)
	)`,
	`CREATE TABLE IF NOT EXISTS staff (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'staff'
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_session ON attendance_records (session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions (status)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log (created_at DESC)`,
}

// EnsureSchema bootstraps the tables. The service owns its DDL; there is no
// separate migration step in deployments this size.
func (d *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
