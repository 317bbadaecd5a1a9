package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"startrak/internal/qr"
)

// Outcome is the closed result taxonomy surfaced to the UI. Tags are stable:
// the dashboard styles scans on them (green/amber/red).
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeInvalidCode      Outcome = "invalid-code"
	OutcomeStudentNotFound  Outcome = "student-not-found"
	OutcomeStudentInactive  Outcome = "student-inactive"
	OutcomeNoActiveSession  Outcome = "no-active-session"
	OutcomeAmbiguousSession Outcome = "ambiguous-session"
	OutcomeAlreadyCheckedIn Outcome = "already-checked-in"
	OutcomeNotAuthorized    Outcome = "not-authorized"
	OutcomeNotCheckedIn     Outcome = "not-checked-in"
	OutcomeError            Outcome = "error"
	OutcomeStoreUnavailable Outcome = "store-unavailable"
)

const retryMsg = "Attendance system unavailable, please retry."

// CheckInResult is returned for every scan. Already-checked-in is not a
// failure: Success is false but the scan was understood and the record left
// untouched.
type CheckInResult struct {
	Success      bool    `json:"success"`
	Status       Outcome `json:"status"`
	StudentName  string  `json:"student_name,omitempty"`
	StudentCode  string  `json:"student_code,omitempty"`
	RecordID     string  `json:"record_id,omitempty"`
	SessionID    string  `json:"session_id,omitempty"`
	RecordStatus Status  `json:"record_status,omitempty"`
	CheckInTime  string  `json:"check_in_time,omitempty"`
	Message      string  `json:"message"`
}

// CheckOutResult is returned for parent-initiated checkouts.
type CheckOutResult struct {
	Success      bool    `json:"success"`
	Status       Outcome `json:"status"`
	ParentName   string  `json:"parent_name,omitempty"`
	StudentName  string  `json:"student_name,omitempty"`
	StudentCode  string  `json:"student_code,omitempty"`
	RecordID     string  `json:"record_id,omitempty"`
	CheckOutTime string  `json:"check_out_time,omitempty"`
	Message      string  `json:"message"`
}

// AdvanceResult reports a manual single-step advancement.
type AdvanceResult struct {
	RecordID string `json:"record_id"`
	From     Status `json:"from"`
	To       Status `json:"to"`
	Advanced bool   `json:"advanced"`
}

// Service runs the attendance transition engines over an injected Store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates the engine. The clock is overridable in tests.
func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func displayTime(t time.Time) string {
	return t.Local().Format("3:04 PM")
}

// ProcessCheckIn resolves a scanned student code and advances the student's
// attendance record in the active session to checked-in. At most one write
// is performed; a record that already left absent is reported as
// already-checked-in without mutation.
func (s *Service) ProcessCheckIn(ctx context.Context, code string) CheckInResult {
	res := s.processCheckIn(ctx, code)
	checkinOutcomes.WithLabelValues(string(res.Status)).Inc()
	return res
}

func (s *Service) processCheckIn(ctx context.Context, code string) CheckInResult {
	studentID := qr.ExtractStudentID(code)
	if studentID == "" {
		return CheckInResult{Status: OutcomeInvalidCode, Message: "Invalid QR code. Please try again."}
	}

	student, err := s.store.FindStudentByID(ctx, studentID)
	if errors.Is(err, ErrNotFound) {
		return CheckInResult{Status: OutcomeStudentNotFound, Message: "Student not found."}
	}
	if err != nil {
		return CheckInResult{Status: OutcomeStoreUnavailable, Message: retryMsg}
	}
	if student.Status != StudentActive {
		return CheckInResult{
			Status:      OutcomeStudentInactive,
			StudentName: student.Name,
			StudentCode: student.StudentCode,
			Message:     fmt.Sprintf("%s is %s and cannot check in.", student.Name, student.Status),
		}
	}

	session, err := s.store.FindActiveSession(ctx)
	if errors.Is(err, ErrNotFound) {
		return CheckInResult{
			Status:      OutcomeNoActiveSession,
			StudentName: student.Name,
			StudentCode: student.StudentCode,
			Message:     "No active session. Ask staff to start one.",
		}
	}
	if errors.Is(err, ErrAmbiguousSession) {
		return CheckInResult{
			Status:      OutcomeAmbiguousSession,
			StudentName: student.Name,
			StudentCode: student.StudentCode,
			Message:     "More than one session is active. Ask staff to close the extras.",
		}
	}
	if err != nil {
		return CheckInResult{Status: OutcomeStoreUnavailable, Message: retryMsg}
	}

	now := s.now()
	rec, err := s.store.FindRecord(ctx, student.ID, session.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		created, err := s.store.InsertRecord(ctx, Record{
			StudentID:   student.ID,
			SessionID:   session.ID,
			Status:      StatusCheckedIn,
			CheckInTime: &now,
		})
		if errors.Is(err, ErrConflict) {
			// Lost the insert race to another station; report the winner's
			// state without writing again.
			return s.alreadyCheckedIn(ctx, student, session)
		}
		if err != nil {
			return CheckInResult{Status: OutcomeStoreUnavailable, Message: retryMsg}
		}
		return s.checkInSuccess(student, session, created)

	case err != nil:
		return CheckInResult{Status: OutcomeStoreUnavailable, Message: retryMsg}

	case rec.Status == StatusAbsent:
		updated, err := s.store.ConditionalUpdateRecord(ctx, rec.ID, StatusAbsent, RecordPatch{
			Status:      StatusCheckedIn,
			CheckInTime: &now,
		})
		if errors.Is(err, ErrConflict) {
			return s.alreadyCheckedIn(ctx, student, session)
		}
		if err != nil {
			return CheckInResult{Status: OutcomeStoreUnavailable, Message: retryMsg}
		}
		return s.checkInSuccess(student, session, updated)

	default:
		return checkedInAlreadyResult(student, session, rec)
	}
}

func (s *Service) checkInSuccess(student *Student, session *Session, rec Record) CheckInResult {
	return CheckInResult{
		Success:      true,
		Status:       OutcomeSuccess,
		StudentName:  student.Name,
		StudentCode:  student.StudentCode,
		RecordID:     rec.ID,
		SessionID:    session.ID,
		RecordStatus: rec.Status,
		CheckInTime:  displayTime(*rec.CheckInTime),
		Message:      "Successfully checked in!",
	}
}

// alreadyCheckedIn re-reads the record after a lost race so the result
// carries the winning scan's timestamp.
func (s *Service) alreadyCheckedIn(ctx context.Context, student *Student, session *Session) CheckInResult {
	rec, err := s.store.FindRecord(ctx, student.ID, session.ID)
	if err != nil {
		return CheckInResult{Status: OutcomeStoreUnavailable, Message: retryMsg}
	}
	return checkedInAlreadyResult(student, session, rec)
}

func checkedInAlreadyResult(student *Student, session *Session, rec *Record) CheckInResult {
	res := CheckInResult{
		Status:       OutcomeAlreadyCheckedIn,
		StudentName:  student.Name,
		StudentCode:  student.StudentCode,
		RecordID:     rec.ID,
		SessionID:    session.ID,
		RecordStatus: rec.Status,
		Message:      fmt.Sprintf("%s is already %s.", student.Name, rec.Status.Label()),
	}
	if rec.CheckInTime != nil {
		res.CheckInTime = displayTime(*rec.CheckInTime)
	}
	return res
}

// ProcessCheckOut closes out a student's attendance after validating the
// parent's pickup code and the parent-student link. Completed is terminal:
// a second checkout attempt fails without writing.
func (s *Service) ProcessCheckOut(ctx context.Context, parentCode, studentID string) CheckOutResult {
	res := s.processCheckOut(ctx, parentCode, studentID)
	checkoutOutcomes.WithLabelValues(string(res.Status)).Inc()
	return res
}

func (s *Service) processCheckOut(ctx context.Context, parentCode, studentID string) CheckOutResult {
	if !qr.IsParentCode(parentCode) {
		return CheckOutResult{Status: OutcomeInvalidCode, Message: "Invalid parent QR code."}
	}
	parent, err := s.store.FindParentByQRCode(ctx, parentCode)
	if errors.Is(err, ErrNotFound) {
		return CheckOutResult{Status: OutcomeInvalidCode, Message: "Invalid parent QR code."}
	}
	if err != nil {
		return CheckOutResult{Status: OutcomeStoreUnavailable, Message: retryMsg}
	}

	authorized, err := s.store.IsParentAuthorized(ctx, parent.ID, studentID)
	if err != nil {
		return CheckOutResult{Status: OutcomeStoreUnavailable, Message: retryMsg}
	}
	if !authorized {
		return CheckOutResult{
			Status:     OutcomeNotAuthorized,
			ParentName: parent.Name,
			Message:    fmt.Sprintf("%s is not authorized to check out this student.", parent.Name),
		}
	}

	student, err := s.store.FindStudentByID(ctx, studentID)
	if errors.Is(err, ErrNotFound) {
		return CheckOutResult{Status: OutcomeError, ParentName: parent.Name, Message: "Student not found."}
	}
	if err != nil {
		return CheckOutResult{Status: OutcomeStoreUnavailable, Message: retryMsg}
	}
	if student.Status != StudentActive {
		return CheckOutResult{
			Status:      OutcomeError,
			ParentName:  parent.Name,
			StudentName: student.Name,
			StudentCode: student.StudentCode,
			Message:     fmt.Sprintf("%s is %s.", student.Name, student.Status),
		}
	}

	session, err := s.store.FindActiveSession(ctx)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguousSession) {
		return CheckOutResult{
			Status:      OutcomeError,
			ParentName:  parent.Name,
			StudentName: student.Name,
			Message:     "No single active session.",
		}
	}
	if err != nil {
		return CheckOutResult{Status: OutcomeStoreUnavailable, Message: retryMsg}
	}

	rec, err := s.store.FindRecord(ctx, student.ID, session.ID)
	if errors.Is(err, ErrNotFound) {
		return notCheckedInResult(parent, student)
	}
	if err != nil {
		return CheckOutResult{Status: OutcomeStoreUnavailable, Message: retryMsg}
	}
	if rec.Status == StatusCompleted {
		res := CheckOutResult{
			Status:      OutcomeError,
			ParentName:  parent.Name,
			StudentName: student.Name,
			StudentCode: student.StudentCode,
			RecordID:    rec.ID,
			Message:     fmt.Sprintf("%s was already checked out.", student.Name),
		}
		if rec.CheckOutTime != nil {
			res.CheckOutTime = displayTime(*rec.CheckOutTime)
		}
		return res
	}
	if rec.Status == StatusAbsent {
		return notCheckedInResult(parent, student)
	}

	now := s.now()
	updated, err := s.store.ConditionalUpdateRecord(ctx, rec.ID, rec.Status, RecordPatch{
		Status:       StatusCompleted,
		CheckOutTime: &now,
		AppendNote:   fmt.Sprintf("checked out by parent %s (%s)", parent.Name, parent.ID),
	})
	if errors.Is(err, ErrConflict) {
		// Raced with another checkout or a manual advance; re-evaluate so
		// the caller sees the state that won.
		return s.processCheckOut(ctx, parentCode, studentID)
	}
	if err != nil {
		return CheckOutResult{Status: OutcomeStoreUnavailable, Message: retryMsg}
	}

	return CheckOutResult{
		Success:      true,
		Status:       OutcomeSuccess,
		ParentName:   parent.Name,
		StudentName:  student.Name,
		StudentCode:  student.StudentCode,
		RecordID:     updated.ID,
		CheckOutTime: displayTime(*updated.CheckOutTime),
		Message:      fmt.Sprintf("%s checked out by %s.", student.Name, parent.Name),
	}
}

func notCheckedInResult(parent *Parent, student *Student) CheckOutResult {
	return CheckOutResult{
		Status:      OutcomeNotCheckedIn,
		ParentName:  parent.Name,
		StudentName: student.Name,
		StudentCode: student.StudentCode,
		Message:     fmt.Sprintf("%s has not checked in to this session.", student.Name),
	}
}

// Advance moves a record one step forward in the lifecycle, stamping the
// target state's timestamp. Advancing a completed record is a no-op, not an
// error.
func (s *Service) Advance(ctx context.Context, recordID string) (AdvanceResult, error) {
	rec, err := s.store.FindRecordByID(ctx, recordID)
	if err != nil {
		return AdvanceResult{}, err
	}

	next, ok := rec.Status.Next()
	if !ok {
		return AdvanceResult{RecordID: rec.ID, From: rec.Status, To: rec.Status, Advanced: false}, nil
	}

	now := s.now()
	patch := RecordPatch{Status: next}
	switch next {
	case StatusCheckedIn:
		patch.CheckInTime = &now
	case StatusLearning:
		patch.LearningStartTime = &now
	case StatusCompleted:
		patch.CheckOutTime = &now
	}

	updated, err := s.store.ConditionalUpdateRecord(ctx, rec.ID, rec.Status, patch)
	if errors.Is(err, ErrConflict) {
		// Someone advanced it first; report the state we now observe.
		cur, rerr := s.store.FindRecordByID(ctx, recordID)
		if rerr != nil {
			return AdvanceResult{}, rerr
		}
		return AdvanceResult{RecordID: cur.ID, From: cur.Status, To: cur.Status, Advanced: false}, nil
	}
	if err != nil {
		return AdvanceResult{}, err
	}

	advanceTotal.WithLabelValues(string(updated.Status)).Inc()
	return AdvanceResult{RecordID: updated.ID, From: rec.Status, To: updated.Status, Advanced: true}, nil
}
