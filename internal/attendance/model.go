package attendance

import "time"

// StudentStatus gates who may check in; only active students are eligible.
type StudentStatus string

const (
	StudentActive    StudentStatus = "active"
	StudentInactive  StudentStatus = "inactive"
	StudentSuspended StudentStatus = "suspended"
)

// Student is a roster entry. StudentCode is the external id printed on the
// ID card (e.g. "STU001"); ID is the internal identifier embedded in QR
// payloads.
type Student struct {
	ID          string        `json:"id"`
	StudentCode string        `json:"student_code"`
	Name        string        `json:"name"`
	Status      StudentStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// SessionStatus is the class-instance lifecycle: upcoming, active, completed.
type SessionStatus string

const (
	SessionUpcoming  SessionStatus = "upcoming"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is a scheduled class instance. At most one session is expected to
// be active at a time; check-ins apply only to the active one.
type Session struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	StartsAt time.Time     `json:"starts_at"`
	EndsAt   *time.Time    `json:"ends_at,omitempty"`
	Status   SessionStatus `json:"status"`
}

// Record is the per-(student, session) attendance state. The three
// timestamps are stamped one per forward transition and never rewritten.
type Record struct {
	ID                string     `json:"id"`
	StudentID         string     `json:"student_id"`
	SessionID         string     `json:"session_id"`
	Status            Status     `json:"status"`
	CheckInTime       *time.Time `json:"check_in_time,omitempty"`
	LearningStartTime *time.Time `json:"learning_start_time,omitempty"`
	CheckOutTime      *time.Time `json:"check_out_time,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Parent holds a pickup QR code and is linked to the students it may check
// out via an explicit link table.
type Parent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	QRCode string `json:"qr_code"`
}

// RecordPatch is the field set applied by a conditional update. Only non-nil
// timestamps are written, so each transition stamps exactly one.
type RecordPatch struct {
	Status            Status
	CheckInTime       *time.Time
	LearningStartTime *time.Time
	CheckOutTime      *time.Time
	AppendNote        string
}
