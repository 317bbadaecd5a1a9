package attendance

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemStorePopulateSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	session, _ := store.InsertSession(ctx, Session{Name: "S1", Status: SessionActive})
	for _, s := range []Student{
		{StudentCode: "STU001", Name: "A", Status: StudentActive},
		{StudentCode: "STU002", Name: "B", Status: StudentActive},
		{StudentCode: "STU003", Name: "C", Status: StudentSuspended},
	} {
		if _, err := store.InsertStudent(ctx, s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	n, err := store.PopulateSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 seeded records (suspended excluded), got %d", n)
	}

	records, _ := store.ListRecords(ctx, session.ID)
	for _, rec := range records {
		if rec.Status != StatusAbsent {
			t.Fatalf("seeded record not absent: %+v", rec)
		}
		if rec.CheckInTime != nil || rec.LearningStartTime != nil || rec.CheckOutTime != nil {
			t.Fatalf("seeded record has timestamps: %+v", rec)
		}
	}

	// Idempotent: a second populate seeds nothing.
	n, err = store.PopulateSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("repopulate: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 on repopulate, got %d", n)
	}
}

func TestMemStoreConditionalUpdateGuards(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	student, _ := store.InsertStudent(ctx, Student{StudentCode: "STU001", Name: "A", Status: StudentActive})
	session, _ := store.InsertSession(ctx, Session{Name: "S1", Status: SessionActive})
	rec, err := store.InsertRecord(ctx, Record{StudentID: student.ID, SessionID: session.ID, Status: StatusAbsent})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	now := time.Now().UTC()
	if _, err := store.ConditionalUpdateRecord(ctx, rec.ID, StatusAbsent, RecordPatch{
		Status: StatusCheckedIn, CheckInTime: &now,
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Stale expectation fails without mutating.
	_, err = store.ConditionalUpdateRecord(ctx, rec.ID, StatusAbsent, RecordPatch{
		Status: StatusCheckedIn, CheckInTime: &now,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	_, err = store.ConditionalUpdateRecord(ctx, "missing", StatusAbsent, RecordPatch{Status: StatusCheckedIn})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStoreActivationDemotesOtherSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	a, _ := store.InsertSession(ctx, Session{Name: "A", Status: SessionActive})
	b, _ := store.InsertSession(ctx, Session{Name: "B", Status: SessionUpcoming})

	if err := store.SetSessionStatus(ctx, b.ID, SessionActive); err != nil {
		t.Fatalf("activate: %v", err)
	}

	active, err := store.FindActiveSession(ctx)
	if err != nil {
		t.Fatalf("FindActiveSession: %v", err)
	}
	if active.ID != b.ID {
		t.Fatalf("active session = %s, want %s", active.ID, b.ID)
	}

	old, _ := store.FindSession(ctx, a.ID)
	if old.Status != SessionCompleted || old.EndsAt == nil {
		t.Fatalf("previous session not closed out: %+v", old)
	}
}
