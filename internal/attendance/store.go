package attendance

import (
	"context"
	"errors"
)

// Sentinel errors returned by Store implementations. The service maps them
// onto result tags; anything else is treated as a store fault.
var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("attendance: not found")
	// ErrConflict is returned when a conditional update's precondition fails
	// or an insert hits the (student, session) unique constraint.
	ErrConflict = errors.New("attendance: conflict")
	// ErrAmbiguousSession is returned when more than one session is active.
	ErrAmbiguousSession = errors.New("attendance: multiple active sessions")
)

// Store is the persistence surface the transition engines run against. It
// is injected so tests can substitute the in-memory implementation.
type Store interface {
	FindStudentByID(ctx context.Context, id string) (*Student, error)
	FindStudentByCode(ctx context.Context, code string) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	InsertStudent(ctx context.Context, s Student) (Student, error)

	FindActiveSession(ctx context.Context) (*Session, error)
	FindSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	InsertSession(ctx context.Context, s Session) (Session, error)
	// SetSessionStatus moves a session through upcoming/active/completed.
	// When activating, implementations must first complete any other active
	// session so the single-active invariant holds.
	SetSessionStatus(ctx context.Context, id string, status SessionStatus) error

	FindRecord(ctx context.Context, studentID, sessionID string) (*Record, error)
	FindRecordByID(ctx context.Context, id string) (*Record, error)
	ListRecords(ctx context.Context, sessionID string) ([]Record, error)
	// InsertRecord fails with ErrConflict when a record already exists for
	// the (student, session) pair.
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	// ConditionalUpdateRecord applies patch only if the record's current
	// status equals expected, returning ErrConflict otherwise. This is the
	// compare-and-set that closes the duplicate-scan race.
	ConditionalUpdateRecord(ctx context.Context, id string, expected Status, patch RecordPatch) (Record, error)
	// PopulateSession seeds an absent record for every active student that
	// does not already have one in the session.
	PopulateSession(ctx context.Context, sessionID string) (int, error)

	FindParentByQRCode(ctx context.Context, code string) (*Parent, error)
	InsertParent(ctx context.Context, p Parent) (Parent, error)
	LinkParentStudent(ctx context.Context, parentID, studentID string) error
	IsParentAuthorized(ctx context.Context, parentID, studentID string) (bool, error)
}
