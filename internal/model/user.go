package model

import "time"

// User is an account backed by a Google identity. Users are created on
// first successful identity exchange and soft-deactivated, never deleted.
type User struct {
	ID         int64      `json:"id"`
	GoogleID   string     `json:"google_id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	PictureURL string     `json:"picture_url"`
	VerifiedAt *time.Time `json:"verified_at"`
	LastLogin  *time.Time `json:"last_login"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
}
