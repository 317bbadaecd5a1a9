package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"startrak/internal/qr"
)

type fixture struct {
	store   *MemStore
	svc     *Service
	student Student
	session Session
	parent  Parent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemStore()

	student, err := store.InsertStudent(ctx, Student{
		StudentCode: "STU001",
		Name:        "Emma Wilson",
		Status:      StudentActive,
	})
	if err != nil {
		t.Fatalf("seed student: %v", err)
	}
	session, err := store.InsertSession(ctx, Session{Name: "Morning Class", Status: SessionActive})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	parent, err := store.InsertParent(ctx, Parent{Name: "Sarah Wilson", QRCode: "QR_AB12CD34"})
	if err != nil {
		t.Fatalf("seed parent: %v", err)
	}
	return &fixture{store: store, svc: NewService(store), student: student, session: session, parent: parent}
}

func (f *fixture) code() string { return qr.NewStudentCode(f.student.ID) }

func TestCheckInCreatesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.svc.ProcessCheckIn(ctx, f.code())
	if !res.Success || res.Status != OutcomeSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.StudentName != "Emma Wilson" || res.StudentCode != "STU001" {
		t.Fatalf("result missing identity: %+v", res)
	}
	if res.CheckInTime == "" || res.Message != "Successfully checked in!" {
		t.Fatalf("result missing display fields: %+v", res)
	}

	rec, err := f.store.FindRecord(ctx, f.student.ID, f.session.ID)
	if err != nil {
		t.Fatalf("record not created: %v", err)
	}
	if rec.Status != StatusCheckedIn || rec.CheckInTime == nil {
		t.Fatalf("record not stamped: %+v", rec)
	}
	if rec.LearningStartTime != nil || rec.CheckOutTime != nil {
		t.Fatalf("extra timestamps stamped: %+v", rec)
	}
}

func TestCheckInAdvancesAbsentRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded, err := f.store.InsertRecord(ctx, Record{
		StudentID: f.student.ID,
		SessionID: f.session.ID,
		Status:    StatusAbsent,
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}

	res := f.svc.ProcessCheckIn(ctx, f.code())
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.RecordID != seeded.ID {
		t.Fatalf("expected in-place update of %s, got %s", seeded.ID, res.RecordID)
	}

	rec, _ := f.store.FindRecordByID(ctx, seeded.ID)
	if rec.Status != StatusCheckedIn || rec.CheckInTime == nil {
		t.Fatalf("absent record not advanced: %+v", rec)
	}
}

func TestDuplicateCheckInIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.svc.ProcessCheckIn(ctx, f.code())
	if !first.Success {
		t.Fatalf("first scan failed: %+v", first)
	}
	rec1, _ := f.store.FindRecordByID(ctx, first.RecordID)

	for _, status := range []Status{StatusCheckedIn, StatusLearning, StatusCompleted} {
		if rec, _ := f.store.FindRecordByID(ctx, first.RecordID); rec.Status != status {
			// Walk the record forward between iterations via manual advance.
			if _, err := f.svc.Advance(ctx, first.RecordID); err != nil {
				t.Fatalf("advance: %v", err)
			}
		}

		second := f.svc.ProcessCheckIn(ctx, f.code())
		if second.Success {
			t.Fatalf("duplicate scan at %s reported success", status)
		}
		if second.Status != OutcomeAlreadyCheckedIn {
			t.Fatalf("duplicate scan at %s: got tag %s", status, second.Status)
		}
		if second.CheckInTime != first.CheckInTime {
			t.Fatalf("duplicate scan altered check-in time: %q vs %q", second.CheckInTime, first.CheckInTime)
		}
	}

	rec2, _ := f.store.FindRecordByID(ctx, first.RecordID)
	if !rec1.CheckInTime.Equal(*rec2.CheckInTime) {
		t.Fatalf("checkInTime mutated by duplicate scans")
	}
}

func TestCheckInInvalidCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, code := range []string{"", "garbage", "STU_" + f.student.ID, f.code() + "x"} {
		res := f.svc.ProcessCheckIn(ctx, code)
		if res.Status != OutcomeInvalidCode || res.Success {
			t.Fatalf("code %q: got %+v", code, res)
		}
		if res.StudentName != "" {
			t.Fatalf("invalid code leaked identity: %+v", res)
		}
	}
}

func TestCheckInStudentNotFound(t *testing.T) {
	f := newFixture(t)
	res := f.svc.ProcessCheckIn(context.Background(), qr.NewStudentCode("deadbeef"))
	if res.Status != OutcomeStudentNotFound {
		t.Fatalf("got %+v", res)
	}
}

func TestCheckInInactiveStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	suspended, err := f.store.InsertStudent(ctx, Student{
		StudentCode: "STU002",
		Name:        "Liam Park",
		Status:      StudentSuspended,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	res := f.svc.ProcessCheckIn(ctx, qr.NewStudentCode(suspended.ID))
	if res.Status != OutcomeStudentInactive || res.Success {
		t.Fatalf("got %+v", res)
	}
	if res.StudentName != "Liam Park" || res.StudentCode != "STU002" {
		t.Fatalf("inactive result should still identify the student: %+v", res)
	}
}

func TestCheckInNoActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.SetSessionStatus(ctx, f.session.ID, SessionCompleted); err != nil {
		t.Fatalf("close session: %v", err)
	}

	res := f.svc.ProcessCheckIn(ctx, f.code())
	if res.Status != OutcomeNoActiveSession {
		t.Fatalf("got %+v", res)
	}
	if _, err := f.store.FindRecord(ctx, f.student.ID, f.session.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record created despite no active session")
	}
}

func TestCheckInAmbiguousSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Second active session inserted directly, bypassing SetSessionStatus's
	// demotion, to simulate the corrupted state.
	if _, err := f.store.InsertSession(ctx, Session{Name: "Overlap", Status: SessionActive}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res := f.svc.ProcessCheckIn(ctx, f.code())
	if res.Status != OutcomeAmbiguousSession {
		t.Fatalf("got %+v", res)
	}
}

func TestCheckInInsertRaceReportsAlready(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stamped := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	store := &racingStore{MemStore: f.store}
	store.onInsert = func() {
		// Another station wins the insert between our read and write.
		if _, err := f.store.InsertRecord(ctx, Record{
			StudentID:   f.student.ID,
			SessionID:   f.session.ID,
			Status:      StatusCheckedIn,
			CheckInTime: &stamped,
		}); err != nil {
			t.Fatalf("race seed: %v", err)
		}
	}

	res := NewService(store).ProcessCheckIn(ctx, f.code())
	if res.Status != OutcomeAlreadyCheckedIn || res.Success {
		t.Fatalf("lost race must report already-checked-in, got %+v", res)
	}
	if res.CheckInTime != displayTime(stamped) {
		t.Fatalf("result should carry the winner's time, got %q", res.CheckInTime)
	}
}

// racingStore injects a concurrent write just before the engine's insert.
type racingStore struct {
	*MemStore
	onInsert func()
}

func (r *racingStore) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if r.onInsert != nil {
		r.onInsert()
		r.onInsert = nil
	}
	return r.MemStore.InsertRecord(ctx, rec)
}

func TestCheckOutHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.LinkParentStudent(ctx, f.parent.ID, f.student.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	in := f.svc.ProcessCheckIn(ctx, f.code())
	if !in.Success {
		t.Fatalf("check-in failed: %+v", in)
	}

	out := f.svc.ProcessCheckOut(ctx, f.parent.QRCode, f.student.ID)
	if !out.Success || out.Status != OutcomeSuccess {
		t.Fatalf("got %+v", out)
	}
	if out.ParentName != "Sarah Wilson" || out.StudentName != "Emma Wilson" || out.CheckOutTime == "" {
		t.Fatalf("result missing display fields: %+v", out)
	}

	rec, _ := f.store.FindRecordByID(ctx, in.RecordID)
	if rec.Status != StatusCompleted || rec.CheckOutTime == nil {
		t.Fatalf("record not completed: %+v", rec)
	}
	if rec.CheckInTime == nil {
		t.Fatalf("checkout erased checkInTime")
	}
	if rec.Notes == "" {
		t.Fatalf("checkout did not record the parent audit note")
	}
}

func TestCheckOutUnauthorizedRegardlessOfState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// No link between parent and student.

	states := []func(){
		func() {},
		func() { f.svc.ProcessCheckIn(ctx, f.code()) },
		func() {
			rec, _ := f.store.FindRecord(ctx, f.student.ID, f.session.ID)
			f.svc.Advance(ctx, rec.ID)
		},
	}
	for i, setup := range states {
		setup()
		res := f.svc.ProcessCheckOut(ctx, f.parent.QRCode, f.student.ID)
		if res.Status != OutcomeNotAuthorized {
			t.Fatalf("state %d: got %+v", i, res)
		}
		if res.ParentName != "Sarah Wilson" {
			t.Fatalf("state %d: unauthorized result should name the parent: %+v", i, res)
		}
	}
}

func TestCheckOutUnknownCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, code := range []string{"QR_ZZZZ9999", "not-a-code", "qr_ab12cd34"} {
		res := f.svc.ProcessCheckOut(ctx, code, f.student.ID)
		if res.Status != OutcomeInvalidCode {
			t.Fatalf("code %q: got %+v", code, res)
		}
	}
}

func TestCheckOutNotCheckedIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.LinkParentStudent(ctx, f.parent.ID, f.student.ID); err != nil {
		t.Fatalf("link: %v", err)
	}

	// No record at all.
	res := f.svc.ProcessCheckOut(ctx, f.parent.QRCode, f.student.ID)
	if res.Status != OutcomeNotCheckedIn {
		t.Fatalf("missing record: got %+v", res)
	}

	// Absent record counts as not checked in.
	if _, err := f.store.InsertRecord(ctx, Record{
		StudentID: f.student.ID, SessionID: f.session.ID, Status: StatusAbsent,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res = f.svc.ProcessCheckOut(ctx, f.parent.QRCode, f.student.ID)
	if res.Status != OutcomeNotCheckedIn {
		t.Fatalf("absent record: got %+v", res)
	}
}

func TestCheckOutIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.LinkParentStudent(ctx, f.parent.ID, f.student.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	f.svc.ProcessCheckIn(ctx, f.code())

	first := f.svc.ProcessCheckOut(ctx, f.parent.QRCode, f.student.ID)
	if !first.Success {
		t.Fatalf("first checkout failed: %+v", first)
	}

	second := f.svc.ProcessCheckOut(ctx, f.parent.QRCode, f.student.ID)
	if second.Success || second.Status != OutcomeError {
		t.Fatalf("second checkout must fail, got %+v", second)
	}
	if second.CheckOutTime != first.CheckOutTime {
		t.Fatalf("second checkout should surface the original time: %q vs %q", second.CheckOutTime, first.CheckOutTime)
	}

	rec, _ := f.store.FindRecordByID(ctx, first.RecordID)
	if rec.Status != StatusCompleted {
		t.Fatalf("terminal state mutated: %+v", rec)
	}
}

func TestAdvanceStampsOneTimestampPerStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.InsertRecord(ctx, Record{
		StudentID: f.student.ID, SessionID: f.session.ID, Status: StatusAbsent,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	steps := []struct {
		to      Status
		stamped func(Record) *time.Time
	}{
		{StatusCheckedIn, func(r Record) *time.Time { return r.CheckInTime }},
		{StatusLearning, func(r Record) *time.Time { return r.LearningStartTime }},
		{StatusCompleted, func(r Record) *time.Time { return r.CheckOutTime }},
	}

	var checkInStamp time.Time
	for i, step := range steps {
		res, err := f.svc.Advance(ctx, rec.ID)
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if !res.Advanced || res.To != step.to {
			t.Fatalf("advance %d: got %+v", i, res)
		}
		cur, _ := f.store.FindRecordByID(ctx, rec.ID)
		if step.stamped(*cur) == nil {
			t.Fatalf("advance to %s did not stamp its timestamp", step.to)
		}
		if i == 0 {
			checkInStamp = *cur.CheckInTime
		} else if !cur.CheckInTime.Equal(checkInStamp) {
			t.Fatalf("advance to %s altered checkInTime", step.to)
		}
	}

	// Terminal: no-op, no error.
	res, err := f.svc.Advance(ctx, rec.ID)
	if err != nil {
		t.Fatalf("advance at completed: %v", err)
	}
	if res.Advanced || res.From != StatusCompleted || res.To != StatusCompleted {
		t.Fatalf("advance at completed should be a no-op, got %+v", res)
	}
}

func TestStoreFaultSurfacesAsUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svc := NewService(faultyStore{})
	if res := svc.ProcessCheckIn(ctx, f.code()); res.Status != OutcomeStoreUnavailable {
		t.Fatalf("check-in: got %+v", res)
	}
	if res := svc.ProcessCheckOut(ctx, "QR_AB12CD34", f.student.ID); res.Status != OutcomeStoreUnavailable {
		t.Fatalf("check-out: got %+v", res)
	}
}

// faultyStore fails every call, standing in for a down database.
type faultyStore struct{}

var errDown = errors.New("connection refused")

func (faultyStore) FindStudentByID(context.Context, string) (*Student, error) { return nil, errDown }
func (faultyStore) FindStudentByCode(context.Context, string) (*Student, error) {
	return nil, errDown
}
func (faultyStore) ListStudents(context.Context) ([]Student, error)       { return nil, errDown }
func (faultyStore) InsertStudent(context.Context, Student) (Student, error) {
	return Student{}, errDown
}
func (faultyStore) FindActiveSession(context.Context) (*Session, error)    { return nil, errDown }
func (faultyStore) FindSession(context.Context, string) (*Session, error)  { return nil, errDown }
func (faultyStore) ListSessions(context.Context) ([]Session, error)        { return nil, errDown }
func (faultyStore) InsertSession(context.Context, Session) (Session, error) {
	return Session{}, errDown
}
func (faultyStore) SetSessionStatus(context.Context, string, SessionStatus) error { return errDown }
func (faultyStore) FindRecord(context.Context, string, string) (*Record, error)   { return nil, errDown }
func (faultyStore) FindRecordByID(context.Context, string) (*Record, error)       { return nil, errDown }
func (faultyStore) ListRecords(context.Context, string) ([]Record, error)         { return nil, errDown }
func (faultyStore) InsertRecord(context.Context, Record) (Record, error)          { return Record{}, errDown }
func (faultyStore) ConditionalUpdateRecord(context.Context, string, Status, RecordPatch) (Record, error) {
	return Record{}, errDown
}
func (faultyStore) PopulateSession(context.Context, string) (int, error)        { return 0, errDown }
func (faultyStore) FindParentByQRCode(context.Context, string) (*Parent, error) { return nil, errDown }
func (faultyStore) InsertParent(context.Context, Parent) (Parent, error)        { return Parent{}, errDown }
func (faultyStore) LinkParentStudent(context.Context, string, string) error     { return errDown }
func (faultyStore) IsParentAuthorized(context.Context, string, string) (bool, error) {
	return false, errDown
}
