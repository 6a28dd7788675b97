package identity

import (
	"strings"
	"time"
)

// Role is the coarse authorization level carried by a session.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Session represents the currently authenticated identity. Values are
// immutable once built; every state transition replaces the whole Session
// rather than mutating one in place.
type Session struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	Role        Role      `json:"role"`
	Department  string    `json:"department,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// DisplayName derives the user-facing name from the name fields, falling back
// to the email address. The derived value is never stored.
func (s *Session) DisplayName() string {
	return DeriveDisplayName(s.FirstName, s.LastName, s.Email)
}

// IsAdmin reports whether the session carries the admin role.
func (s *Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// DeriveDisplayName joins first and last name, falling back to the email
// address when both are blank.
func DeriveDisplayName(first, last, email string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name != "" {
		return name
	}
	return email
}

// CachedSnapshot is the persisted remember-me copy of a Session together with
// its absolute expiry. Snapshots are replaced wholesale, never merged.
type CachedSnapshot struct {
	Session   Session   `json:"session"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the snapshot is no longer usable at the given
// instant.
func (c *CachedSnapshot) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
