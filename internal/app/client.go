// Package app wires the session lifecycle and replication services into the
// client façade the rest of the application talks to.
package app

import (
	"context"
	"errors"
	"time"

	"roomsync/internal/config"
	"roomsync/internal/domain/booking"
	"roomsync/internal/domain/identity"
	xerrors "roomsync/internal/pkg/errors"
	"roomsync/internal/provider"
	"roomsync/internal/service/auth"
	"roomsync/internal/service/replica"
	"roomsync/internal/session"
	"roomsync/internal/store"

	"go.uber.org/zap"
)

const expireLogoutTimeout = 10 * time.Second

// Client is the startup sequencer and app-facing auth/sync façade. It owns
// the wiring between the session store, the inactivity scheduler, the
// resolver, the change-stream listener, and the replicator.
type Client struct {
	cfg    config.AppConfig
	logger *zap.Logger

	idp   provider.IdentityProvider
	local store.LocalStore

	sessions   *session.Store
	scheduler  *session.InactivityScheduler
	seq        *session.Sequence
	resolver   *auth.IdentityResolver
	listener   *auth.AuthEventListener
	replicator *replica.Replicator

	runCtx      context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// New builds a Client from injected capabilities so every service can be
// exercised with fakes.
func New(
	cfg config.AppConfig,
	idp provider.IdentityProvider,
	api provider.BookingAPI,
	local store.LocalStore,
	logger *zap.Logger,
) *Client {
	c := &Client{
		cfg:      cfg,
		logger:   logger,
		idp:      idp,
		local:    local,
		sessions: session.NewStore(logger),
		seq:      &session.Sequence{},
	}
	c.scheduler = session.NewInactivityScheduler(cfg.InactivityTimeout, c.expire, logger)
	c.resolver = auth.NewIdentityResolver(idp, local, c.sessions, c.seq,
		cfg.RememberTTL, cfg.OAuthRedirectURL, logger)
	c.listener = auth.NewAuthEventListener(idp, c.resolver, c.sessions, c.seq, logger)

	window := booking.ReplicationWindow{
		PastOffsetDays:   cfg.PastWindowDays,
		FutureOffsetDays: cfg.FutureWindowDays,
	}
	c.replicator = replica.NewReplicator(api, local, c.sessions, window,
		cfg.SyncInterval, api.Healthy, logger)
	return c
}

// Start begins the session lifecycle: the change stream and the startup
// resolve race each other, and whichever commits first under the stale-write
// guard determines the initial session.
func (c *Client) Start(ctx context.Context) {
	c.runCtx, c.cancel = context.WithCancel(ctx)
	c.unsubscribe = c.sessions.Subscribe(c.onSessionChange)
	c.listener.Start(c.runCtx)

	go c.replicator.Run(c.runCtx)

	// The resolve's sequence number is issued before the goroutine is
	// scheduled, so a login or sign-out completing at any point after Start
	// supersedes it.
	op := c.seq.Begin()
	go c.startupResolve(c.runCtx, op)
}

// Close tears the client down: timer and listener are stopped synchronously
// before anything else, so no orphaned callback can resurrect session state.
func (c *Client) Close() error {
	c.scheduler.Cancel()
	c.listener.Stop()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if c.cancel != nil {
		c.cancel()
	}
	return c.local.Close()
}

func (c *Client) startupResolve(ctx context.Context, op uint64) {
	sess, err := c.resolver.Resolve(ctx)
	if err != nil {
		c.logger.Error("startup resolve failed", zap.Error(err))
		return
	}
	if !c.seq.TryCommit(op) {
		// A login or sign-out already decided the session.
		c.logger.Debug("startup resolve superseded")
		return
	}
	c.sessions.Set(sess)
}

// onSessionChange arms the scheduler and triggers replication on real
// transitions. Same-id notifications never reach here, so a TOKEN_REFRESHED
// or a converging duplicate sign-in cannot re-arm or re-replicate.
func (c *Client) onSessionChange(next *identity.Session) {
	if next == nil {
		c.scheduler.Cancel()
		return
	}
	c.scheduler.Reset()

	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		err := c.replicator.Replicate(ctx)
		if err != nil && !errors.Is(err, xerrors.ErrOffline) && !errors.Is(err, xerrors.ErrNoSession) {
			c.logger.Warn("post-login replication failed", zap.Error(err))
		}
	}()
}

// expire is the scheduler's callback: an inactivity deadline behaves like an
// explicit logout.
func (c *Client) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), expireLogoutTimeout)
	defer cancel()
	if err := c.resolver.Logout(ctx); err != nil {
		c.logger.Error("inactivity logout failed", zap.Error(err))
	}
}

// ========== Façade ==========

func (c *Client) Login(ctx context.Context, email, password string, remember bool) (*identity.Session, error) {
	return c.resolver.Login(ctx, email, password, remember)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.resolver.Logout(ctx)
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.resolver.RequestPasswordReset(ctx, email)
}

// LoginWithProvider returns the URL to visit for a redirect-based external
// login; completion arrives on the change stream.
func (c *Client) LoginWithProvider(providerName string) (string, error) {
	return c.resolver.BeginOAuth(providerName)
}

// ReplicateNow is the manual "sync now" trigger.
func (c *Client) ReplicateNow(ctx context.Context) error {
	return c.replicator.Replicate(ctx)
}

// Sessions exposes the session store for read and subscribe use.
func (c *Client) Sessions() *session.Store {
	return c.sessions
}

// Touch reports user activity, pushing the inactivity deadline forward by the
// full timeout. A no-op while anonymous.
func (c *Client) Touch() {
	if c.sessions.Current() != nil {
		c.scheduler.Reset()
	}
}

// CachedRooms reads the local replica's room set.
func (c *Client) CachedRooms(ctx context.Context) ([]booking.Room, error) {
	return c.local.Rooms(ctx)
}

// CachedBookings reads the local replica's booking set.
func (c *Client) CachedBookings(ctx context.Context) ([]booking.Booking, error) {
	return c.local.Bookings(ctx)
}
