package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/nwbull/heritage/internal/model"
)

type InvitationStore struct {
	db *sql.DB
}

func NewInvitationStore(db *sql.DB) *InvitationStore {
	return &InvitationStore{db: db}
}

const invitationCols = `id, code, family_name, created_by_user_id, created_at, expires_at, max_uses, current_uses, is_active, description`

func scanInvitation(s interface{ Scan(...any) error }) (*model.InvitationCode, error) {
	var c model.InvitationCode
	var expiresAt sql.NullTime
	var maxUses sql.NullInt64
	err := s.Scan(&c.ID, &c.Code, &c.FamilyName, &c.CreatedByUserID, &c.CreatedAt, &expiresAt, &maxUses, &c.CurrentUses, &c.IsActive, &c.Description)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.Time
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		c.MaxUses = &n
	}
	return &c, nil
}

const (
	codeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeSuffixLen = 8
	createRetries = 3
)

func generateCodeSuffix() (string, error) {
	buf := make([]byte, codeSuffixLen)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// Create mints a new invitation code prefixed with the family name. On
// the unlikely collision with an existing code it regenerates, up to
// createRetries attempts.
func (s *InvitationStore) Create(ctx context.Context, familyName string, createdBy int64, expiresAt *time.Time, maxUses *int, description string) (*model.InvitationCode, error) {
	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		suffix, err := generateCodeSuffix()
		if err != nil {
			return nil, err
		}
		code := familyName + suffix

		res, err := s.db.ExecContext(ctx, `
			INSERT INTO invitation_codes (code, family_name, created_by_user_id, created_at, expires_at, max_uses, current_uses, is_active, description)
			VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?)`,
			code, familyName, createdBy, time.Now().UTC(), expiresAt, maxUses, description)
		if isUniqueViolation(err) {
			lastErr = err
			continue
		}
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("create invitation: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("create invitation: %w", err)
		}
		row := s.db.QueryRowContext(ctx, `SELECT `+invitationCols+` FROM invitation_codes WHERE id = ?`, id)
		c, err := scanInvitation(row)
		if err != nil {
			return nil, fmt.Errorf("create invitation: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("create invitation: code collision persisted: %w", lastErr)
}

func (s *InvitationStore) GetByCode(ctx context.Context, code string) (*model.InvitationCode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invitationCols+` FROM invitation_codes WHERE code = ?`, code)
	c, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	return c, nil
}

// Redeem consumes one use of the code and grants the family to the user,
// atomically. The conditional increment runs first inside the
// transaction: it takes the database write lock, so concurrent redeemers
// serialize and a limited code admits exactly max_uses users.
func (s *InvitationStore) Redeem(ctx context.Context, code string, userID int64) (*model.InvitationCode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("redeem invitation: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE invitation_codes
		SET current_uses = current_uses + 1
		WHERE code = ?
		  AND is_active = 1
		  AND (expires_at IS NULL OR expires_at > ?)
		  AND (max_uses IS NULL OR current_uses < max_uses)`,
		code, now)
	if err != nil {
		return nil, fmt.Errorf("redeem invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("redeem invitation: %w", err)
	}
	if n == 0 {
		return nil, s.classifyRedeemFailure(ctx, code, now)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+invitationCols+` FROM invitation_codes WHERE code = ?`, code)
	c, err := scanInvitation(row)
	if err != nil {
		return nil, fmt.Errorf("redeem invitation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO family_access_grants (user_id, family_name, granted_at, granted_by, is_active)
		VALUES (?, ?, ?, ?, 1)`,
		userID, c.FamilyName, now, model.GrantMethodInvitationCode)
	if isForeignKeyViolation(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redeem invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("redeem invitation: %w", err)
	}
	return c, nil
}

// classifyRedeemFailure distinguishes why the conditional update matched
// nothing. The read happens after the update failed, so the
// classification reflects the state the redeemer actually saw.
func (s *InvitationStore) classifyRedeemFailure(ctx context.Context, code string, now time.Time) error {
	c, err := s.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	switch {
	case c == nil || !c.IsActive:
		return ErrCodeInvalid
	case c.ExpiresAt != nil && !c.ExpiresAt.After(now):
		return ErrCodeExpired
	case c.MaxUses != nil && c.CurrentUses >= *c.MaxUses:
		return ErrCodeExhausted
	default:
		return ErrCodeInvalid
	}
}

// Deactivate retires a code without deleting its redemption history.
func (s *InvitationStore) Deactivate(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE invitation_codes SET is_active = 0 WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("deactivate invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate invitation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
