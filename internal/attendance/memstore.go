package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for dev mode and tests. The mutex gives it
// the same conditional-update atomicity the Postgres repo gets from its
// guarded UPDATE.
type MemStore struct {
	mu       sync.Mutex
	students map[string]Student
	sessions map[string]Session
	records  map[string]Record
	parents  map[string]Parent
	links    map[string]map[string]bool
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		students: make(map[string]Student),
		sessions: make(map[string]Session),
		records:  make(map[string]Record),
		parents:  make(map[string]Parent),
		links:    make(map[string]map[string]bool),
	}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) FindStudentByID(_ context.Context, id string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemStore) FindStudentByCode(_ context.Context, code string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.StudentCode == code {
			s := s
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) ListStudents(_ context.Context) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Student, 0, len(m.students))
	for _, s := range m.students {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StudentCode < res[j].StudentCode })
	return res, nil
}

func (m *MemStore) InsertStudent(_ context.Context, s Student) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = StudentActive
	}
	for _, existing := range m.students {
		if existing.StudentCode == s.StudentCode {
			return Student{}, ErrConflict
		}
	}
	s.CreatedAt = time.Now().UTC()
	m.students[s.ID] = s
	return s, nil
}

func (m *MemStore) FindActiveSession(_ context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []Session
	for _, s := range m.sessions {
		if s.Status == SessionActive {
			found = append(found, s)
		}
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

func (m *MemStore) FindSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemStore) ListSessions(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartsAt.After(res[j].StartsAt) })
	return res, nil
}

func (m *MemStore) InsertSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = SessionUpcoming
	}
	if s.StartsAt.IsZero() {
		s.StartsAt = time.Now().UTC()
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemStore) SetSessionStatus(_ context.Context, id string, status SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	if status == SessionActive {
		for oid, other := range m.sessions {
			if oid != id && other.Status == SessionActive {
				other.Status = SessionCompleted
				other.EndsAt = &now
				m.sessions[oid] = other
			}
		}
	}
	s.Status = status
	if status == SessionCompleted {
		s.EndsAt = &now
	}
	m.sessions[id] = s
	return nil
}

func (m *MemStore) FindRecord(_ context.Context, studentID, sessionID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.StudentID == studentID && rec.SessionID == sessionID {
			rec := rec
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) FindRecordByID(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemStore) ListRecords(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Record
	for _, rec := range m.records {
		if rec.SessionID == sessionID {
			res = append(res, rec)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

func (m *MemStore) InsertRecord(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.StudentID == rec.StudentID && existing.SessionID == rec.SessionID {
			return Record{}, ErrConflict
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusAbsent
	}
	rec.UpdatedAt = time.Now().UTC()
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *MemStore) ConditionalUpdateRecord(_ context.Context, id string, expected Status, patch RecordPatch) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status != expected {
		return Record{}, ErrConflict
	}
	rec.Status = patch.Status
	if patch.CheckInTime != nil {
		rec.CheckInTime = patch.CheckInTime
	}
	if patch.LearningStartTime != nil {
		rec.LearningStartTime = patch.LearningStartTime
	}
	if patch.CheckOutTime != nil {
		rec.CheckOutTime = patch.CheckOutTime
	}
	if patch.AppendNote != "" {
		if rec.Notes == "" {
			rec.Notes = patch.AppendNote
		} else {
			rec.Notes += "; " + patch.AppendNote
		}
	}
	rec.UpdatedAt = time.Now().UTC()
	m.records[id] = rec
	return rec, nil
}

func (m *MemStore) PopulateSession(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seeded := 0
	for _, s := range m.students {
		if s.Status != StudentActive {
			continue
		}
		exists := false
		for _, rec := range m.records {
			if rec.StudentID == s.ID && rec.SessionID == sessionID {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		id := uuid.NewString()
		m.records[id] = Record{
			ID:        id,
			StudentID: s.ID,
			SessionID: sessionID,
			Status:    StatusAbsent,
			UpdatedAt: time.Now().UTC(),
		}
		seeded++
	}
	return seeded, nil
}

func (m *MemStore) FindParentByQRCode(_ context.Context, code string) (*Parent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.parents {
		if p.QRCode == code {
			p := p
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) InsertParent(_ context.Context, p Parent) (Parent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for _, existing := range m.parents {
		if existing.QRCode == p.QRCode {
			return Parent{}, ErrConflict
		}
	}
	m.parents[p.ID] = p
	return p, nil
}

func (m *MemStore) LinkParentStudent(_ context.Context, parentID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[parentID] == nil {
		m.links[parentID] = make(map[string]bool)
	}
	m.links[parentID][studentID] = true
	return nil
}

func (m *MemStore) IsParentAuthorized(_ context.Context, parentID, studentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[parentID][studentID], nil
}
