package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nwbull/heritage/internal/model"
)

type ConsentStore struct {
	db *sql.DB
}

func NewConsentStore(db *sql.DB) *ConsentStore {
	return &ConsentStore{db: db}
}

const consentCols = `id, user_id, family_name, marketing_consent, terms_accepted, consent_version, ip_address, user_agent, consented_at`

func scanConsent(s interface{ Scan(...any) error }) (*model.ConsentRecord, error) {
	var c model.ConsentRecord
	var ip, ua sql.NullString
	err := s.Scan(&c.ID, &c.UserID, &c.FamilyName, &c.MarketingConsent, &c.TermsAccepted, &c.ConsentVersion, &ip, &ua, &c.ConsentedAt)
	if err != nil {
		return nil, err
	}
	c.IPAddress = ip.String
	c.UserAgent = ua.String
	return &c, nil
}

// Record appends a consent row. The trail is append-only: a change of
// mind is a new row, and the latest row per user wins on reads.
func (s *ConsentStore) Record(ctx context.Context, rec model.ConsentRecord) (*model.ConsentRecord, error) {
	version := rec.ConsentVersion
	if version == "" {
		version = "1.0"
	}
	var ip, ua sql.NullString
	if rec.IPAddress != "" {
		ip = sql.NullString{String: rec.IPAddress, Valid: true}
	}
	if rec.UserAgent != "" {
		ua = sql.NullString{String: rec.UserAgent, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO consent_records (user_id, family_name, marketing_consent, terms_accepted, consent_version, ip_address, user_agent, consented_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.FamilyName, rec.MarketingConsent, rec.TermsAccepted, version, ip, ua, time.Now().UTC())
	if isForeignKeyViolation(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record consent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("record consent: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+consentCols+` FROM consent_records WHERE id = ?`, id)
	c, err := scanConsent(row)
	if err != nil {
		return nil, fmt.Errorf("record consent: %w", err)
	}
	return c, nil
}

// ListByFamily returns every consent row recorded for a family, oldest
// first.
func (s *ConsentStore) ListByFamily(ctx context.Context, familyName string) ([]*model.ConsentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+consentCols+` FROM consent_records
		WHERE family_name = ?
		ORDER BY consented_at, id`, familyName)
	if err != nil {
		return nil, fmt.Errorf("list consent: %w", err)
	}
	defer rows.Close()

	var records []*model.ConsentRecord
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("list consent: %w", err)
		}
		records = append(records, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list consent: %w", err)
	}
	return records, nil
}

// MarketingRecipient is one exportable address: a user whose latest
// consent row for the family opts in to marketing.
type MarketingRecipient struct {
	Email       string
	Name        string
	ConsentedAt time.Time
}

// MarketingRecipients resolves the current opt-in set for a family. Only
// each user's most recent consent row counts, so an opt-out row written
// after an opt-in removes the address.
func (s *ConsentStore) MarketingRecipients(ctx context.Context, familyName string) ([]MarketingRecipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.email, u.name, c.consented_at
		FROM consent_records c
		JOIN users u ON u.id = c.user_id
		WHERE c.family_name = ?
		  AND c.marketing_consent = 1
		  AND c.id = (
			SELECT id FROM consent_records
			WHERE user_id = c.user_id AND family_name = c.family_name
			ORDER BY consented_at DESC, id DESC
			LIMIT 1
		  )
		ORDER BY u.email`, familyName)
	if err != nil {
		return nil, fmt.Errorf("marketing recipients: %w", err)
	}
	defer rows.Close()

	var out []MarketingRecipient
	for rows.Next() {
		var r MarketingRecipient
		if err := rows.Scan(&r.Email, &r.Name, &r.ConsentedAt); err != nil {
			return nil, fmt.Errorf("marketing recipients: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("marketing recipients: %w", err)
	}
	return out, nil
}
