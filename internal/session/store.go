// Package session holds the in-process session state machine: the single
// source of truth for the current session, the inactivity timer, and the
// stale-write guard that orders asynchronous results.
package session

import (
	"sync"

	"roomsync/internal/domain/identity"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Store is the single source of truth for the current session. Every other
// component mutates it through Set only; consumers read via Current or
// Subscribe, never by polling the services.
type Store struct {
	mu      sync.Mutex
	current *identity.Session
	subs    map[string]func(*identity.Session)
	logger  *zap.Logger
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{
		subs:   make(map[string]func(*identity.Session)),
		logger: logger,
	}
}

// Current returns the current session, or nil when anonymous.
func (s *Store) Current() *identity.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the current session and notifies subscribers. Setting the same
// session id again (or nil over nil) is a no-op: subscribers see only real
// transitions, never re-notifications.
func (s *Store) Set(next *identity.Session) {
	s.mu.Lock()
	if sameSession(s.current, next) {
		s.mu.Unlock()
		return
	}
	s.current = next
	fns := make([]func(*identity.Session), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	if next != nil {
		s.logger.Info("session changed", zap.String("user_id", next.ID))
	} else {
		s.logger.Info("session cleared")
	}
	for _, fn := range fns {
		fn(next)
	}
}

// Subscribe registers fn for session transitions and returns its unsubscribe
// function. Unsubscribing twice is harmless.
func (s *Store) Subscribe(fn func(*identity.Session)) func() {
	id := ulid.Make().String()
	s.mu.Lock()
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func sameSession(a, b *identity.Session) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}
