package testfixtures

import (
	"context"
	"sync"
	"time"

	"roomsync/internal/domain/booking"
	xerrors "roomsync/internal/pkg/errors"
	"roomsync/internal/provider"
)

// Provider is a controllable fake identity provider.
type Provider struct {
	mu sync.Mutex

	// Remote is what CurrentSession returns; RemoteErr simulates an
	// unreachable provider; RemoteDelay stalls the lookup so tests can race
	// other events against a resolve in flight.
	Remote      *provider.RemoteSession
	RemoteErr   error
	RemoteDelay time.Duration

	// SignInSession is returned by SignInWithPassword; SignInErr rejects it.
	SignInSession *provider.RemoteSession
	SignInErr     error

	SignOutErr error

	// Profiles maps user id to profile row; missing ids yield
	// xerrors.ErrProfileNotFound. ProfileErr overrides everything.
	Profiles     map[string]*provider.ProfileRow
	ProfileErr   error
	ProfileDelay time.Duration

	profileCalls int
	resetEmails  []string
	handlers     map[int]func(provider.AuthEvent)
	nextHandler  int
}

func NewProvider() *Provider {
	return &Provider{
		Profiles: make(map[string]*provider.ProfileRow),
		handlers: make(map[int]func(provider.AuthEvent)),
	}
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*provider.RemoteSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SignInErr != nil {
		return nil, p.SignInErr
	}
	if p.SignInSession == nil {
		return nil, xerrors.ErrInvalidCredentials
	}
	remote := *p.SignInSession
	return &remote, nil
}

func (p *Provider) BeginOAuth(providerName, redirectTo string) (string, error) {
	return "https://auth.test/authorize?provider=" + providerName, nil
}

func (p *Provider) CurrentSession(ctx context.Context) (*provider.RemoteSession, error) {
	p.mu.Lock()
	delay := p.RemoteDelay
	err := p.RemoteErr
	remote := p.Remote
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, nil
	}
	copied := *remote
	return &copied, nil
}

func (p *Provider) OnAuthStateChange(handler func(provider.AuthEvent)) provider.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextHandler
	p.nextHandler++
	p.handlers[id] = handler
	return &fakeSubscription{provider: p, id: id}
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.SignOutErr
}

func (p *Provider) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetEmails = append(p.resetEmails, email)
	return nil
}

func (p *Provider) FetchProfile(ctx context.Context, id string) (*provider.ProfileRow, error) {
	p.mu.Lock()
	p.profileCalls++
	delay := p.ProfileDelay
	err := p.ProfileErr
	row, ok := p.Profiles[id]
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerrors.ErrProfileNotFound
	}
	copied := *row
	return &copied, nil
}

// Emit delivers an event to every registered handler, synchronously, the way
// the real stream does.
func (p *Provider) Emit(ev provider.AuthEvent) {
	p.mu.Lock()
	fns := make([]func(provider.AuthEvent), 0, len(p.handlers))
	for _, fn := range p.handlers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// ProfileCalls reports how many profile fetches were attempted.
func (p *Provider) ProfileCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profileCalls
}

// ResetEmails returns the password reset requests seen so far.
func (p *Provider) ResetEmails() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resetEmails...)
}

// HandlerCount reports how many stream handlers are registered.
func (p *Provider) HandlerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

type fakeSubscription struct {
	provider *Provider
	once     sync.Once
	id       int
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.provider.mu.Lock()
		delete(s.provider.handlers, s.id)
		s.provider.mu.Unlock()
	})
}

// BookingAPI is a controllable fake data capability.
type BookingAPI struct {
	mu sync.Mutex

	RoomsResult    []booking.Room
	RoomsErr       error
	BookingsResult []booking.Booking
	BookingsErr    error
	FetchDelay     time.Duration
	Offline        bool

	roomsCalls    int
	bookingsCalls int
	lastUserID    string
	lastFrom      time.Time
	lastTo        time.Time
}

func NewBookingAPI() *BookingAPI {
	return &BookingAPI{}
}

func (a *BookingAPI) ActiveRooms(ctx context.Context) ([]booking.Room, error) {
	a.mu.Lock()
	a.roomsCalls++
	delay := a.FetchDelay
	rooms, err := a.RoomsResult, a.RoomsErr
	a.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return append([]booking.Room(nil), rooms...), nil
}

func (a *BookingAPI) BookingsInRange(ctx context.Context, userID string, from, to time.Time) ([]booking.Booking, error) {
	a.mu.Lock()
	a.bookingsCalls++
	a.lastUserID = userID
	a.lastFrom = from
	a.lastTo = to
	delay := a.FetchDelay
	bookings, err := a.BookingsResult, a.BookingsErr
	a.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return append([]booking.Booking(nil), bookings...), nil
}

func (a *BookingAPI) Healthy(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.Offline
}

// Calls reports the total fetches per dataset.
func (a *BookingAPI) Calls() (rooms, bookings int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roomsCalls, a.bookingsCalls
}

// LastQuery reports the arguments of the latest bookings fetch.
func (a *BookingAPI) LastQuery() (userID string, from, to time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastUserID, a.lastFrom, a.lastTo
}
