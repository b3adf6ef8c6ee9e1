package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nwbull/heritage/internal/model"
)

type GrantStore struct {
	db *sql.DB
}

func NewGrantStore(db *sql.DB) *GrantStore {
	return &GrantStore{db: db}
}

const grantCols = `id, user_id, family_name, granted_at, granted_by, is_active`

func scanGrant(s interface{ Scan(...any) error }) (*model.FamilyAccessGrant, error) {
	var g model.FamilyAccessGrant
	err := s.Scan(&g.ID, &g.UserID, &g.FamilyName, &g.GrantedAt, &g.GrantedBy, &g.IsActive)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Grant appends an access grant for the user. Grants are append-only;
// re-granting an already held family adds another row and the effective
// family set stays unchanged.
func (s *GrantStore) Grant(ctx context.Context, userID int64, familyName, method string) (*model.FamilyAccessGrant, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO family_access_grants (user_id, family_name, granted_at, granted_by, is_active)
		VALUES (?, ?, ?, ?, 1)`,
		userID, familyName, time.Now().UTC(), method)
	if isForeignKeyViolation(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("grant access: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("grant access: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+grantCols+` FROM family_access_grants WHERE id = ?`, id)
	g, err := scanGrant(row)
	if err != nil {
		return nil, fmt.Errorf("grant access: %w", err)
	}
	return g, nil
}

// ListFamilies returns the distinct active family names granted to the
// user, ordered by name.
func (s *GrantStore) ListFamilies(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT family_name FROM family_access_grants
		WHERE user_id = ? AND is_active = 1
		ORDER BY family_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list families: %w", err)
	}
	defer rows.Close()

	var families []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list families: %w", err)
		}
		families = append(families, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list families: %w", err)
	}
	return families, nil
}

// ListByFamily returns all active grants for a family, newest first.
func (s *GrantStore) ListByFamily(ctx context.Context, familyName string) ([]*model.FamilyAccessGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+grantCols+` FROM family_access_grants
		WHERE family_name = ? AND is_active = 1
		ORDER BY granted_at DESC`, familyName)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []*model.FamilyAccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("list grants: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}
