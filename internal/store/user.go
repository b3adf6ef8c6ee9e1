package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nwbull/heritage/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userCols = `id, google_id, email, name, picture_url, verified_at, last_login, is_active, created_at`

func scanUser(s interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var verifiedAt, lastLogin sql.NullTime
	err := s.Scan(&u.ID, &u.GoogleID, &u.Email, &u.Name, &u.PictureURL, &verifiedAt, &lastLogin, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		u.VerifiedAt = &verifiedAt.Time
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return &u, nil
}

// Create inserts a new user from a verified Google identity.
func (s *UserStore) Create(ctx context.Context, googleID, email, name, pictureURL string) (*model.User, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (google_id, email, name, picture_url, is_active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`,
		googleID, email, name, pictureURL, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE google_id = ?`, googleID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by google id: %w", err)
	}
	return u, nil
}

// MarkLogin stamps last_login and verified_at. Every successful OAuth
// callback counts as a fresh verification of the address.
func (s *UserStore) MarkLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login = ?, verified_at = ? WHERE id = ?`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("mark login: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark login: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate soft-disables an account. Grants stay in place but sessions
// are no longer issued for the user.
func (s *UserStore) Deactivate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
