// Package provider defines the external capabilities consumed by the session
// and replication core: the hosted identity provider and the booking API.
// Implementations live in subpackages; services depend only on these
// interfaces so they can be exercised with fakes.
package provider

import (
	"context"
	"time"

	"roomsync/internal/domain/booking"

	"github.com/golang-jwt/jwt/v5"
)

// RemoteSession is the provider-issued session envelope.
type RemoteSession struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ProfileRow is the booking API's profile record for an identity.
type ProfileRow struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Role        string    `json:"role"`
	Department  string    `json:"department"`
	CreatedAt   time.Time `json:"created_at"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// TokenClaims are the identity claims embedded in a provider access token.
// The client never verifies the signature; that is the server's concern. The
// claims only feed the degraded-session path when the profile row cannot be
// fetched.
type TokenClaims struct {
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Department string `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// AuthEventType identifies a change-stream transition.
type AuthEventType string

const (
	EventSignedIn       AuthEventType = "SIGNED_IN"
	EventSignedOut      AuthEventType = "SIGNED_OUT"
	EventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

// AuthEvent is one notification from the provider's change stream.
type AuthEvent struct {
	Type    AuthEventType  `json:"event"`
	Session *RemoteSession `json:"session,omitempty"`
}

// Subscription is the cancellation token returned by OnAuthStateChange.
// Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// IdentityProvider is the consumed identity capability. The provider owns
// credential verification and session issuance.
type IdentityProvider interface {
	// SignInWithPassword authenticates with credentials. Rejections map to
	// xerrors.ErrInvalidCredentials, transport failures to
	// xerrors.ErrProviderUnreachable.
	SignInWithPassword(ctx context.Context, email, password string) (*RemoteSession, error)

	// BeginOAuth returns the authorize URL for a redirect-based external
	// provider login. Completion is observed later on the change stream.
	BeginOAuth(providerName, redirectTo string) (string, error)

	// CurrentSession returns the active remote session, or nil when none.
	CurrentSession(ctx context.Context) (*RemoteSession, error)

	// OnAuthStateChange registers a change-stream handler.
	OnAuthStateChange(handler func(AuthEvent)) Subscription

	// SignOut terminates the remote session.
	SignOut(ctx context.Context) error

	// RequestPasswordReset asks the provider to send a reset link.
	RequestPasswordReset(ctx context.Context, email, redirectTo string) error

	// FetchProfile loads the profile row for an identity, or
	// xerrors.ErrProfileNotFound.
	FetchProfile(ctx context.Context, id string) (*ProfileRow, error)
}

// BookingAPI is the consumed data capability backing offline replication.
type BookingAPI interface {
	// ActiveRooms returns every room with status=active.
	ActiveRooms(ctx context.Context) ([]booking.Room, error)

	// BookingsInRange returns the user's bookings intersecting [from, to].
	BookingsInRange(ctx context.Context, userID string, from, to time.Time) ([]booking.Booking, error)

	// Healthy reports whether the API is currently reachable.
	Healthy(ctx context.Context) bool
}
