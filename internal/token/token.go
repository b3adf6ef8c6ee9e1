// Package token issues and verifies the three signed token kinds used by
// the platform: session tokens, email-verification tokens, and magic-link
// tokens. All three share one HS256 signing secret; the time-boxed link
// kinds are distinguished from sessions by a purpose tag.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuerTag = "family-genealogy-platform"

// PurposeEmailVerification tags time-boxed link tokens. Magic-link tokens
// reuse the same shape and tag; only the consuming endpoint differs.
const PurposeEmailVerification = "email_verification"

const (
	SessionTTL = 24 * time.Hour
	LinkTTL    = 30 * time.Minute
)

var (
	ErrTokenInvalid    = errors.New("token invalid")
	ErrTokenExpired    = errors.New("token expired")
	ErrPurposeMismatch = errors.New("token purpose mismatch")
)

// SessionClaims is the payload of a session token. Families is the grant
// snapshot at issuance; the absence of a purpose tag marks a session.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID   int64    `json:"user_id"`
	Email    string   `json:"email"`
	Families []string `json:"families"`
}

// LinkClaims is the payload shared by email-verification and magic-link
// tokens. UserID is nil when the recipient has no account yet.
type LinkClaims struct {
	jwt.RegisteredClaims
	Email      string `json:"email"`
	FamilyName string `json:"family_name"`
	UserID     *int64 `json:"user_id,omitempty"`
	Purpose    string `json:"type"`
}

// Issuer signs and verifies all token kinds with one process-wide secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret, now: time.Now}
}

// IssueSession signs a session token over the given family snapshot. The
// families slice is trusted as-is; callers guarantee its contents. A zero
// ttl selects the 24-hour default.
func (i *Issuer) IssueSession(userID int64, email string, families []string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = SessionTTL
	}
	now := i.now().UTC()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerTag,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:   userID,
		Email:    email,
		Families: families,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// IssueLink signs a time-boxed link token for the given email and family.
// A zero ttl selects the 30-minute default.
func (i *Issuer) IssueLink(email, familyName string, userID *int64, purpose string, ttl time.Duration) (string, error) {
	if purpose == "" {
		purpose = PurposeEmailVerification
	}
	if ttl == 0 {
		ttl = LinkTTL
	}
	now := i.now().UTC()
	claims := LinkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerTag,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:      email,
		FamilyName: familyName,
		UserID:     userID,
		Purpose:    purpose,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign link token: %w", err)
	}
	return signed, nil
}

// VerifySession checks signature and expiry and returns the decoded
// session payload. Tokens carrying a purpose tag are link tokens, never
// sessions, and are rejected.
func (i *Issuer) VerifySession(raw string) (*SessionClaims, error) {
	var claims struct {
		SessionClaims
		Purpose string `json:"type"`
	}
	if err := i.parse(raw, &claims); err != nil {
		return nil, err
	}
	if err := i.checkExpiry(claims.ExpiresAt); err != nil {
		return nil, err
	}
	if claims.Purpose != "" {
		return nil, ErrPurposeMismatch
	}
	return &claims.SessionClaims, nil
}

// VerifyLink checks signature, expiry, and the purpose tag, and returns
// the decoded link payload. An empty expectedPurpose skips the tag check.
func (i *Issuer) VerifyLink(raw, expectedPurpose string) (*LinkClaims, error) {
	var claims LinkClaims
	if err := i.parse(raw, &claims); err != nil {
		return nil, err
	}
	if err := i.checkExpiry(claims.ExpiresAt); err != nil {
		return nil, err
	}
	if expectedPurpose != "" && claims.Purpose != expectedPurpose {
		return nil, ErrPurposeMismatch
	}
	return &claims, nil
}

// parse validates the signature only. Claims validation is disabled here;
// expiry is enforced by checkExpiry against the issuer clock.
func (i *Issuer) parse(raw string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return nil
}

// checkExpiry runs after signature verification so a token past its expiry
// fails with ErrTokenExpired even when the signature is valid.
func (i *Issuer) checkExpiry(exp *jwt.NumericDate) error {
	if exp == nil {
		return fmt.Errorf("%w: missing exp", ErrTokenInvalid)
	}
	if !exp.Time.After(i.now().UTC()) {
		return ErrTokenExpired
	}
	return nil
}
