// Package auth implements the session lifecycle services: the identity
// resolver and the change-stream listener.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"roomsync/internal/domain/identity"
	"roomsync/internal/provider"
	"roomsync/internal/session"
	"roomsync/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// IdentityResolver produces the current Session from, in priority order: the
// active remote session enriched with its profile row; a degraded session
// built from token claims when the profile fetch fails; the remember-me
// snapshot when no remote session exists; anonymous.
type IdentityResolver struct {
	provider    provider.IdentityProvider
	local       store.LocalStore
	sessions    *session.Store
	seq         *session.Sequence
	rememberTTL time.Duration
	redirectTo  string
	logger      *zap.Logger
	now         func() time.Time

	// profiles coalesces concurrent profile fetches per user id so a login
	// racing a SIGNED_IN event performs exactly one fetch and both converge
	// on the same Session.
	profiles singleflight.Group

	// The last successful resolution, keyed by access token. A sign-in
	// event dispatched locally during a credential login runs back to back
	// with the login's own build instead of overlapping it; reusing the
	// result keeps that pair at one profile fetch.
	recentMu    sync.Mutex
	recentToken string
	recentSess  *identity.Session
}

func NewIdentityResolver(
	p provider.IdentityProvider,
	local store.LocalStore,
	sessions *session.Store,
	seq *session.Sequence,
	rememberTTL time.Duration,
	redirectTo string,
	logger *zap.Logger,
) *IdentityResolver {
	return &IdentityResolver{
		provider:    p,
		local:       local,
		sessions:    sessions,
		seq:         seq,
		rememberTTL: rememberTTL,
		redirectTo:  redirectTo,
		logger:      logger,
		now:         time.Now,
	}
}

// ========== Resolution ==========

// Resolve runs the priority chain once and returns the result without
// applying it. It never arms the scheduler or triggers replication; the
// startup sequencer applies the result under the stale-write guard.
func (r *IdentityResolver) Resolve(ctx context.Context) (*identity.Session, error) {
	remote, err := r.provider.CurrentSession(ctx)
	if err != nil {
		r.logger.Warn("remote session lookup failed, falling back to snapshot", zap.Error(err))
	}
	if remote != nil {
		return r.SessionFromRemote(ctx, remote)
	}

	if snap := r.loadSnapshot(ctx); snap != nil {
		r.logger.Info("resolved session from cached snapshot", zap.String("user_id", snap.Session.ID))
		sess := snap.Session
		return &sess, nil
	}

	return nil, nil
}

// SessionFromRemote builds a Session for a remote session: profile row when
// available, degraded token claims otherwise. Concurrent calls for the same
// user share one underlying profile fetch.
func (r *IdentityResolver) SessionFromRemote(ctx context.Context, remote *provider.RemoteSession) (*identity.Session, error) {
	r.recentMu.Lock()
	if r.recentSess != nil && r.recentToken == remote.AccessToken && r.recentSess.ID == remote.UserID {
		sess := *r.recentSess
		r.recentMu.Unlock()
		return &sess, nil
	}
	r.recentMu.Unlock()

	v, err, _ := r.profiles.Do(remote.UserID, func() (interface{}, error) {
		profile, err := r.provider.FetchProfile(ctx, remote.UserID)
		if err != nil {
			// Recovered locally: the remote session itself is valid.
			// Degraded results are never remembered so the next attempt
			// retries the profile.
			r.logger.Warn("profile fetch failed, degrading to token claims",
				zap.String("user_id", remote.UserID), zap.Error(err))
			return r.sessionFromClaims(remote), nil
		}

		sess := sessionFromProfile(profile)
		r.recentMu.Lock()
		r.recentToken = remote.AccessToken
		r.recentSess = sess
		r.recentMu.Unlock()
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*identity.Session), nil
}

func sessionFromProfile(p *provider.ProfileRow) *identity.Session {
	role := identity.Role(p.Role)
	if role != identity.RoleAdmin {
		role = identity.RoleUser
	}
	return &identity.Session{
		ID:          p.ID,
		Email:       p.Email,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Role:        role,
		Department:  p.Department,
		CreatedAt:   p.CreatedAt,
		LastLoginAt: p.LastLoginAt,
	}
}

// sessionFromClaims builds the minimal degraded session from the identity
// claims carried by the access token.
func (r *IdentityResolver) sessionFromClaims(remote *provider.RemoteSession) *identity.Session {
	sess := &identity.Session{
		ID:          remote.UserID,
		Email:       remote.Email,
		Role:        identity.RoleUser,
		LastLoginAt: r.now(),
	}

	claims := &provider.TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(remote.AccessToken, claims); err != nil {
		r.logger.Warn("access token claims unreadable", zap.Error(err))
		return sess
	}
	if claims.Email != "" {
		sess.Email = claims.Email
	}
	if identity.Role(claims.Role) == identity.RoleAdmin {
		sess.Role = identity.RoleAdmin
	}
	sess.FirstName = claims.FirstName
	sess.LastName = claims.LastName
	sess.Department = claims.Department
	if claims.IssuedAt != nil {
		sess.LastLoginAt = claims.IssuedAt.Time
	}
	return sess
}

// ========== Login / Logout ==========

// Login authenticates with credentials and applies the resulting session
// unconditionally: it always wins a race with a resolve in flight. A snapshot
// is persisted iff remember is set.
func (r *IdentityResolver) Login(ctx context.Context, email, password string, remember bool) (*identity.Session, error) {
	remote, err := r.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	sess, err := r.SessionFromRemote(ctx, remote)
	if err != nil {
		return nil, fmt.Errorf("build session: %w", err)
	}

	if remember {
		r.saveSnapshot(ctx, sess)
	}

	r.seq.Supersede()
	r.sessions.Set(sess)
	return sess, nil
}

// BeginOAuth starts a redirect-based external provider login and returns the
// URL the user must visit. Completion arrives later on the change stream.
func (r *IdentityResolver) BeginOAuth(providerName string) (string, error) {
	url, err := r.provider.BeginOAuth(providerName, r.redirectTo)
	if err != nil {
		return "", fmt.Errorf("begin oauth: %w", err)
	}
	r.logger.Info("external provider login started", zap.String("provider", providerName))
	return url, nil
}

// RequestPasswordReset is fire-and-forget against the provider and never
// touches session state.
func (r *IdentityResolver) RequestPasswordReset(ctx context.Context, email string) error {
	return r.provider.RequestPasswordReset(ctx, email, r.redirectTo)
}

// Logout signs out remotely (best effort), then unconditionally clears the
// session store and deletes the cached snapshot. The local contract "I am
// logged out" holds even when the remote call fails.
func (r *IdentityResolver) Logout(ctx context.Context) error {
	if err := r.provider.SignOut(ctx); err != nil {
		r.logger.Warn("provider sign-out failed, clearing local state anyway", zap.Error(err))
	}

	r.seq.Supersede()
	r.sessions.Set(nil)
	r.ForgetSnapshot(ctx)
	return nil
}

// ========== Snapshot ==========

func (r *IdentityResolver) saveSnapshot(ctx context.Context, sess *identity.Session) {
	snap := identity.CachedSnapshot{
		Session:   *sess,
		ExpiresAt: r.now().Add(r.rememberTTL),
	}
	data, err := json.Marshal(&snap)
	if err != nil {
		r.logger.Error("failed to marshal session snapshot", zap.Error(err))
		return
	}
	if err := r.local.Set(ctx, store.SnapshotKey, data); err != nil {
		r.logger.Error("failed to persist session snapshot", zap.Error(err))
	}
}

func (r *IdentityResolver) loadSnapshot(ctx context.Context) *identity.CachedSnapshot {
	data, err := r.local.Get(ctx, store.SnapshotKey)
	if err != nil {
		r.logger.Warn("failed to read session snapshot", zap.Error(err))
		return nil
	}
	if data == nil {
		return nil
	}

	var snap identity.CachedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		r.logger.Warn("discarding unreadable session snapshot", zap.Error(err))
		r.ForgetSnapshot(ctx)
		return nil
	}
	if snap.Expired(r.now()) {
		r.logger.Info("discarding expired session snapshot", zap.String("user_id", snap.Session.ID))
		r.ForgetSnapshot(ctx)
		return nil
	}
	return &snap
}

// ForgetSnapshot deletes the remember-me snapshot. Called on logout and on
// forced expiry.
func (r *IdentityResolver) ForgetSnapshot(ctx context.Context) {
	if err := r.local.Delete(ctx, store.SnapshotKey); err != nil {
		r.logger.Warn("failed to delete session snapshot", zap.Error(err))
	}
}
