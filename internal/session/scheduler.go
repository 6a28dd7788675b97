package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// InactivityScheduler owns the single logout timer tied to session activity.
// The timer handle is an exclusive resource: arming always cancels any prior
// handle first, so two live handles can never double-fire the expiry
// callback.
type InactivityScheduler struct {
	mu       sync.Mutex
	duration time.Duration
	timer    *time.Timer
	deadline time.Time
	gen      uint64
	onExpire func()
	now      func() time.Time
	logger   *zap.Logger
}

// NewInactivityScheduler builds a scheduler with the fixed re-arm duration.
// onExpire is invoked at most once per arm cycle; firing never re-arms.
func NewInactivityScheduler(duration time.Duration, onExpire func(), logger *zap.Logger) *InactivityScheduler {
	return &InactivityScheduler{
		duration: duration,
		onExpire: onExpire,
		now:      time.Now,
		logger:   logger,
	}
}

// Arm cancels any existing timer and starts a new one firing after d.
func (s *InactivityScheduler) Arm(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	s.gen++
	gen := s.gen
	s.deadline = s.now().Add(d)
	s.timer = time.AfterFunc(d, func() { s.fire(gen) })
}

// Reset re-arms with the full fixed duration computed from now. Every reset
// pushes the deadline forward by the whole duration, not to the original
// deadline.
func (s *InactivityScheduler) Reset() {
	s.Arm(s.duration)
}

// Cancel clears the timer. Used on logout and teardown.
func (s *InactivityScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Deadline returns the current absolute deadline and whether a timer is
// armed.
func (s *InactivityScheduler) Deadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline, s.timer != nil
}

func (s *InactivityScheduler) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.deadline = time.Time{}
	}
	// Invalidate any callback already scheduled by the runtime.
	s.gen++
}

func (s *InactivityScheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.timer == nil {
		// A cancel or re-arm raced the firing; this cycle no longer exists.
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.deadline = time.Time{}
	s.mu.Unlock()

	s.logger.Info("inactivity deadline reached, expiring session")
	s.onExpire()
}
