package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

func isUniqueViolation(err error) bool {
	// unique_violation is SQLSTATE 23505.
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const studentCols = "id, student_code, name, status, created_at"

func scanStudent(row interface{ Scan(...any) error }) (*Student, error) {
	var s Student
	if err := row.Scan(&s.ID, &s.StudentCode, &s.Name, &s.Status, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindStudentByID looks up a student by internal id.
func (r *Repository) FindStudentByID(ctx context.Context, id string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+studentCols+` FROM students WHERE id = $1
	`, id)
	return scanStudent(row)
}

// FindStudentByCode looks up a student by external card code.
func (r *Repository) FindStudentByCode(ctx context.Context, code string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+studentCols+` FROM students WHERE student_code = $1
	`, code)
	return scanStudent(row)
}

// ListStudents returns the roster ordered by card code.
func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+studentCols+` FROM students ORDER BY student_code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.StudentCode, &s.Name, &s.Status, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// InsertStudent creates a roster entry.
func (r *Repository) InsertStudent(ctx context.Context, s Student) (Student, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = StudentActive
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, student_code, name, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, s.ID, s.StudentCode, s.Name, s.Status)
	if err := row.Scan(&s.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Student{}, ErrConflict
		}
		return Student{}, err
	}
	return s, nil
}

const sessionCols = "id, name, starts_at, ends_at, status"

// FindActiveSession returns the single active session. Two active rows are
// an operational fault and reported as ErrAmbiguousSession rather than
// silently picking one.
func (r *Repository) FindActiveSession(ctx context.Context) (*Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionCols+` FROM sessions
		WHERE status = 'active'
		ORDER BY starts_at DESC
		LIMIT 2
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Name, &s.StartsAt, &s.EndsAt, &s.Status); err != nil {
			return nil, err
		}
		found = append(found, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return &found[0], nil
	default:
		return nil, ErrAmbiguousSession
	}
}

// FindSession returns one session by id.
func (r *Repository) FindSession(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionCols+` FROM sessions WHERE id = $1
	`, id)
	var s Session
	if err := row.Scan(&s.ID, &s.Name, &s.StartsAt, &s.EndsAt, &s.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListSessions returns sessions newest first.
func (r *Repository) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionCols+` FROM sessions ORDER BY starts_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Name, &s.StartsAt, &s.EndsAt, &s.Status); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// InsertSession creates a session, upcoming by default.
func (r *Repository) InsertSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = SessionUpcoming
	}
	if s.StartsAt.IsZero() {
		s.StartsAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, starts_at, ends_at, status)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.Name, s.StartsAt, s.EndsAt, s.Status)
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// SetSessionStatus transitions a session. Activation demotes any other
// active session to completed first, keeping the single-active invariant.
func (r *Repository) SetSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if status == SessionActive {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = 'completed', ends_at = NOW()
			WHERE status = 'active' AND id <> $1
		`, id); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = $2,
			ends_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE ends_at END
		WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

const recordCols = "id, student_id, session_id, status, check_in_time, learning_start_time, check_out_time, notes, updated_at"

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var rec Record
	var status string
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.SessionID, &status,
		&rec.CheckInTime, &rec.LearningStartTime, &rec.CheckOutTime, &rec.Notes, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	rec.Status = st
	return &rec, nil
}

// FindRecord returns the attendance record for a (student, session) pair.
func (r *Repository) FindRecord(ctx context.Context, studentID, sessionID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordCols+` FROM attendance_records
		WHERE student_id = $1 AND session_id = $2
	`, studentID, sessionID)
	return scanRecord(row)
}

// FindRecordByID returns one record.
func (r *Repository) FindRecordByID(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordCols+` FROM attendance_records WHERE id = $1
	`, id)
	return scanRecord(row)
}

// ListRecords returns a session's records.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordCols+` FROM attendance_records
		WHERE session_id = $1
		ORDER BY updated_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rec)
	}
	return res, rows.Err()
}

// InsertRecord writes a new attendance record. The (student_id, session_id)
// unique constraint turns a duplicate into ErrConflict, which the check-in
// engine relies on to break insert races.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusAbsent
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, student_id, session_id, status, check_in_time, learning_start_time, check_out_time, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING updated_at
	`, rec.ID, rec.StudentID, rec.SessionID, rec.Status,
		rec.CheckInTime, rec.LearningStartTime, rec.CheckOutTime, rec.Notes)
	if err := row.Scan(&rec.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return Record{}, ErrConflict
		}
		return Record{}, err
	}
	return rec, nil
}

// ConditionalUpdateRecord is the compare-and-set transition. The WHERE
// clause guards on the expected status so two racing scans cannot both
// stamp a timestamp; a precondition miss returns ErrConflict.
func (r *Repository) ConditionalUpdateRecord(ctx context.Context, id string, expected Status, patch RecordPatch) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET status = $3,
			check_in_time = COALESCE($4, check_in_time),
			learning_start_time = COALESCE($5, learning_start_time),
			check_out_time = COALESCE($6, check_out_time),
			notes = CASE WHEN $7 = '' THEN notes
				WHEN notes = '' THEN $7
				ELSE notes || '; ' || $7 END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+recordCols+`
	`, id, expected, patch.Status,
		patch.CheckInTime, patch.LearningStartTime, patch.CheckOutTime, patch.AppendNote)
	rec, err := scanRecord(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish "row gone" from "precondition failed".
		if _, ferr := r.FindRecordByID(ctx, id); ferr == nil {
			return Record{}, ErrConflict
		}
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return *rec, nil
}

// PopulateSession seeds an absent record for every active student missing
// one in the session, returning how many were created.
func (r *Repository) PopulateSession(ctx context.Context, sessionID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, session_id, status)
		SELECT gen_random_uuid(), s.id, $1, 'absent'
		FROM students s
		WHERE s.status = 'active'
		ON CONFLICT (student_id, session_id) DO NOTHING
	`, sessionID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// FindParentByQRCode resolves a pickup code to a parent.
func (r *Repository) FindParentByQRCode(ctx context.Context, code string) (*Parent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, qr_code FROM parents WHERE qr_code = $1
	`, code)
	var p Parent
	if err := row.Scan(&p.ID, &p.Name, &p.QRCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// InsertParent registers a parent with a fresh pickup code.
func (r *Repository) InsertParent(ctx context.Context, p Parent) (Parent, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO parents (id, name, qr_code) VALUES ($1, $2, $3)
	`, p.ID, p.Name, p.QRCode)
	if err != nil {
		if isUniqueViolation(err) {
			return Parent{}, ErrConflict
		}
		return Parent{}, err
	}
	return p, nil
}

// LinkParentStudent authorizes a parent for a student.
func (r *Repository) LinkParentStudent(ctx context.Context, parentID, studentID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO parent_students (parent_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT (parent_id, student_id) DO NOTHING
	`, parentID, studentID)
	return err
}

// IsParentAuthorized checks the parent-student link.
func (r *Repository) IsParentAuthorized(ctx context.Context, parentID, studentID string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM parent_students WHERE parent_id = $1 AND student_id = $2
		)
	`, parentID, studentID)
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
