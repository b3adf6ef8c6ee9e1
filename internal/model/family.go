package model

import "time"

// Grant methods recorded on FamilyAccessGrant rows.
const (
	GrantMethodEmailVerification = "email_verification"
	GrantMethodInvitationCode    = "invitation_code"
	GrantMethodMagicLink         = "magic_link"
	GrantMethodAdmin             = "admin"
	GrantMethodFamilyCreator     = "family_creator"
)

// FamilyAccessGrant records that a user may access a family. Grants are
// append-only: the same (user, family) pair may hold many rows, one per
// grant event, and reads collapse them to a distinct family set.
type FamilyAccessGrant struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	FamilyName string    `json:"family_name"`
	GrantedAt  time.Time `json:"granted_at"`
	GrantedBy  string    `json:"granted_by"`
	IsActive   bool      `json:"is_active"`
}

// ConsentRecord is one row of the append-only consent audit trail.
type ConsentRecord struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	FamilyName       string    `json:"family_name"`
	MarketingConsent bool      `json:"marketing_consent"`
	TermsAccepted    bool      `json:"terms_accepted"`
	ConsentVersion   string    `json:"consent_version"`
	IPAddress        string    `json:"ip_address,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	ConsentedAt      time.Time `json:"consented_at"`
}

// InvitationCode is a shareable, family-prefixed code redeemable for a
// family-access grant. ExpiresAt and MaxUses are nil when unlimited.
type InvitationCode struct {
	ID              int64      `json:"id"`
	Code            string     `json:"code"`
	FamilyName      string     `json:"family_name"`
	CreatedByUserID int64      `json:"created_by_user_id"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at"`
	MaxUses         *int       `json:"max_uses"`
	CurrentUses     int        `json:"current_uses"`
	IsActive        bool       `json:"is_active"`
	Description     string     `json:"description"`
}
