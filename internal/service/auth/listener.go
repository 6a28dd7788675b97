package auth

import (
	"context"
	"sync"

	"roomsync/internal/provider"
	"roomsync/internal/session"

	"go.uber.org/zap"
)

// AuthEventListener subscribes to the provider's change stream and reconciles
// its events into the session store under the stale-write guard.
//
// Precedence rules: SIGNED_OUT wins immediately over anything in flight;
// SIGNED_IN converges with a concurrent login for the same identity (shared
// profile fetch, same-id set is a no-op); TOKEN_REFRESHED touches nothing.
type AuthEventListener struct {
	provider provider.IdentityProvider
	resolver *IdentityResolver
	sessions *session.Store
	seq      *session.Sequence
	logger   *zap.Logger

	mu      sync.Mutex
	sub     provider.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

func NewAuthEventListener(
	p provider.IdentityProvider,
	resolver *IdentityResolver,
	sessions *session.Store,
	seq *session.Sequence,
	logger *zap.Logger,
) *AuthEventListener {
	return &AuthEventListener{
		provider: p,
		resolver: resolver,
		sessions: sessions,
		seq:      seq,
		logger:   logger,
	}
}

// Start subscribes to the change stream. Events are handled until Stop or
// until ctx is done.
func (l *AuthEventListener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil || l.stopped {
		return
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.sub = l.provider.OnAuthStateChange(l.handle)
}

// Stop unsubscribes and guarantees no further callback touches the session
// store. Idempotent.
func (l *AuthEventListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	if l.cancel != nil {
		l.cancel()
	}
	if l.sub != nil {
		l.sub.Unsubscribe()
		l.sub = nil
	}
}

func (l *AuthEventListener) handle(ev provider.AuthEvent) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	ctx := l.ctx
	l.mu.Unlock()

	switch ev.Type {
	case provider.EventSignedOut:
		// Wins over any resolve or login in flight, regardless of order.
		l.logger.Info("remote sign-out received")
		l.seq.Supersede()
		l.sessions.Set(nil)
		l.resolver.ForgetSnapshot(ctx)

	case provider.EventSignedIn:
		if ev.Session == nil {
			l.logger.Warn("signed-in event without session payload")
			return
		}
		l.signedIn(ctx, ev)

	case provider.EventTokenRefreshed:
		// Keeps the transport credential alive; not a new authentication.
		l.logger.Debug("token refreshed")

	default:
		l.logger.Warn("unknown auth event", zap.String("type", string(ev.Type)))
	}
}

func (l *AuthEventListener) signedIn(ctx context.Context, ev provider.AuthEvent) {
	// A sign-in for the identity already held is a re-notification, not a
	// new authentication; refetching the profile would double the lookup on
	// every stream echo.
	if cur := l.sessions.Current(); cur != nil && cur.ID == ev.Session.UserID {
		l.logger.Debug("signed-in event for current session", zap.String("user_id", cur.ID))
		return
	}

	// Sequence from arrival: a sign-out or newer login completing during the
	// profile fetch discards this result.
	op := l.seq.Begin()

	sess, err := l.resolver.SessionFromRemote(ctx, ev.Session)
	if err != nil {
		l.logger.Error("failed to build session from signed-in event", zap.Error(err))
		return
	}

	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return
	}

	if !l.seq.TryCommit(op) {
		l.logger.Debug("signed-in event superseded", zap.String("user_id", sess.ID))
		return
	}
	l.sessions.Set(sess)
}
