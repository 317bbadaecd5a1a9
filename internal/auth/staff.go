package auth

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned for unknown emails and wrong passwords alike.
var ErrBadCredentials = errors.New("auth: bad credentials")

// Staff is a dashboard account.
type Staff struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// StaffStore authenticates staff against the staff table.
type StaffStore struct {
	db *sql.DB
}

// NewStaffStore creates the store.
func NewStaffStore(db *sql.DB) *StaffStore {
	return &StaffStore{db: db}
}

// Authenticate verifies the email/password pair.
func (s *StaffStore) Authenticate(ctx context.Context, email, password string) (Staff, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, role FROM staff WHERE email = $1
	`, email)
	var st Staff
	var hash string
	if err := row.Scan(&st.ID, &st.Email, &hash, &st.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Staff{}, ErrBadCredentials
		}
		return Staff{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Staff{}, ErrBadCredentials
	}
	return st, nil
}

// EnsureAdmin seeds a bootstrap admin account when the table is empty, so a
// fresh deployment can be logged into.
func (s *StaffStore) EnsureAdmin(ctx context.Context, email, password string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM staff`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO staff (email, password_hash, role) VALUES ($1, $2, 'admin')
	`, email, string(hash))
	return err
}
