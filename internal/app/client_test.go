package app

import (
	"context"
	"testing"
	"time"

	"roomsync/internal/config"
	"roomsync/internal/domain/booking"
	"roomsync/internal/provider"
	"roomsync/internal/store"
	"roomsync/internal/testfixtures"

	"go.uber.org/zap"
)

func testConfig() config.AppConfig {
	return config.AppConfig{
		InactivityTimeout: time.Hour,
		RememberTTL:       720 * time.Hour,
		SyncInterval:      time.Hour,
		PastWindowDays:    30,
		FutureWindowDays:  60,
	}
}

func newTestClient(cfg config.AppConfig) (*Client, *testfixtures.Provider, *testfixtures.BookingAPI, *testfixtures.MemoryStore) {
	p := testfixtures.NewProvider()
	api := testfixtures.NewBookingAPI()
	local := testfixtures.NewMemoryStore()
	c := New(cfg, p, api, local, zap.NewNop())
	return c, p, api, local
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartupResolvesToAnonymous(t *testing.T) {
	c, _, _, _ := newTestClient(testConfig())
	defer c.Close()

	c.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	if c.Sessions().Current() != nil {
		t.Fatal("expected anonymous startup with no remote session and no cache")
	}
	if _, armed := c.scheduler.Deadline(); armed {
		t.Fatal("scheduler must stay idle while anonymous")
	}
}

func TestStartupResolvesRemoteSession(t *testing.T) {
	c, p, api, _ := newTestClient(testConfig())
	defer c.Close()

	p.Remote = &provider.RemoteSession{UserID: "u1", Email: "ada@example.com", AccessToken: "tok"}
	p.Profiles["u1"] = &provider.ProfileRow{ID: "u1", Email: "ada@example.com", FirstName: "Ada"}

	c.Start(context.Background())

	waitFor(t, "resolved session", func() bool {
		sess := c.Sessions().Current()
		return sess != nil && sess.ID == "u1"
	})
	if _, armed := c.scheduler.Deadline(); !armed {
		t.Fatal("authenticated startup must arm the inactivity timer")
	}
	waitFor(t, "initial replication", func() bool {
		rooms, bookings := api.Calls()
		return rooms == 1 && bookings == 1
	})
}

func TestLoginRightAfterStartIsNotClobbered(t *testing.T) {
	c, p, _, _ := newTestClient(testConfig())
	defer c.Close()

	// No remote session: the startup resolve will come back anonymous. A
	// login completing before that resolve runs must still stand.
	p.SignInSession = &provider.RemoteSession{UserID: "u1", Email: "ada@example.com", AccessToken: "tok"}
	p.Profiles["u1"] = &provider.ProfileRow{ID: "u1", Email: "ada@example.com", FirstName: "Ada"}

	c.Start(context.Background())
	if _, err := c.Login(context.Background(), "ada@example.com", "pw", false); err != nil {
		t.Fatalf("login: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	sess := c.Sessions().Current()
	if sess == nil || sess.ID != "u1" {
		t.Fatalf("startup resolve must not overwrite an explicit login, session = %v", sess)
	}
	if _, armed := c.scheduler.Deadline(); !armed {
		t.Fatal("inactivity timer must stay armed after login")
	}
}

func TestSignOutDuringResolveWins(t *testing.T) {
	c, p, _, _ := newTestClient(testConfig())
	defer c.Close()

	p.Remote = &provider.RemoteSession{UserID: "u1", Email: "ada@example.com", AccessToken: "tok"}
	p.Profiles["u1"] = &provider.ProfileRow{ID: "u1", Email: "ada@example.com"}
	p.RemoteDelay = 50 * time.Millisecond

	c.Start(context.Background())
	time.Sleep(10 * time.Millisecond) // resolve is now in flight

	p.Emit(provider.AuthEvent{Type: provider.EventSignedOut})

	// Let the delayed resolve complete; its non-nil result must be discarded.
	time.Sleep(100 * time.Millisecond)
	if c.Sessions().Current() != nil {
		t.Fatal("sign-out during resolve must leave the session cleared")
	}
}

func TestLoginTriggersReplicationOnce(t *testing.T) {
	c, p, api, _ := newTestClient(testConfig())
	defer c.Close()

	p.SignInSession = &provider.RemoteSession{UserID: "u1", Email: "ada@example.com", AccessToken: "tok"}
	p.Profiles["u1"] = &provider.ProfileRow{ID: "u1", Email: "ada@example.com"}

	c.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	if _, err := c.Login(context.Background(), "ada@example.com", "pw", false); err != nil {
		t.Fatalf("login: %v", err)
	}

	waitFor(t, "post-login replication", func() bool {
		rooms, bookings := api.Calls()
		return rooms == 1 && bookings == 1
	})

	// A refreshed token is not a new authentication: no re-arm, no re-sync.
	deadlineBefore, _ := c.scheduler.Deadline()
	p.Emit(provider.AuthEvent{
		Type:    provider.EventTokenRefreshed,
		Session: &provider.RemoteSession{UserID: "u1", AccessToken: "tok2"},
	})
	time.Sleep(30 * time.Millisecond)

	rooms, bookings := api.Calls()
	if rooms != 1 || bookings != 1 {
		t.Fatalf("token refresh must not re-replicate, got %d/%d fetches", rooms, bookings)
	}
	if deadlineAfter, _ := c.scheduler.Deadline(); !deadlineAfter.Equal(deadlineBefore) {
		t.Fatal("token refresh must not re-arm the inactivity timer")
	}
}

func TestDuplicateSignInEventDoesNotReplicateTwice(t *testing.T) {
	c, p, api, _ := newTestClient(testConfig())
	defer c.Close()

	remote := &provider.RemoteSession{UserID: "u1", Email: "ada@example.com", AccessToken: "tok"}
	p.SignInSession = remote
	p.Profiles["u1"] = &provider.ProfileRow{ID: "u1", Email: "ada@example.com"}

	c.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	if _, err := c.Login(context.Background(), "ada@example.com", "pw", false); err != nil {
		t.Fatalf("login: %v", err)
	}
	waitFor(t, "post-login replication", func() bool {
		rooms, _ := api.Calls()
		return rooms == 1
	})

	// The stream announces the same sign-in again: a no-op re-notification.
	p.Emit(provider.AuthEvent{Type: provider.EventSignedIn, Session: remote})
	time.Sleep(30 * time.Millisecond)

	if rooms, _ := api.Calls(); rooms != 1 {
		t.Fatalf("duplicate sign-in must not re-replicate, got %d room fetches", rooms)
	}
}

func TestInactivityExpiryLogsOut(t *testing.T) {
	cfg := testConfig()
	cfg.InactivityTimeout = 30 * time.Millisecond
	c, p, _, local := newTestClient(cfg)
	defer c.Close()

	p.SignInSession = &provider.RemoteSession{UserID: "u1", Email: "ada@example.com", AccessToken: "tok"}
	p.Profiles["u1"] = &provider.ProfileRow{ID: "u1", Email: "ada@example.com"}

	c.Start(context.Background())
	if _, err := c.Login(context.Background(), "ada@example.com", "pw", true); err != nil {
		t.Fatalf("login: %v", err)
	}

	waitFor(t, "inactivity logout", func() bool {
		return c.Sessions().Current() == nil
	})
	if data, _ := local.Get(context.Background(), store.SnapshotKey); data != nil {
		t.Fatal("forced expiry must delete the cached snapshot")
	}
}

func TestTouchExtendsDeadline(t *testing.T) {
	c, p, _, _ := newTestClient(testConfig())
	defer c.Close()

	p.SignInSession = &provider.RemoteSession{UserID: "u1", AccessToken: "tok"}
	p.Profiles["u1"] = &provider.ProfileRow{ID: "u1"}

	c.Start(context.Background())

	// Touch while anonymous is a no-op.
	c.Touch()
	if _, armed := c.scheduler.Deadline(); armed {
		t.Fatal("touch must not arm the timer while anonymous")
	}

	if _, err := c.Login(context.Background(), "ada@example.com", "pw", false); err != nil {
		t.Fatalf("login: %v", err)
	}
	first, _ := c.scheduler.Deadline()
	time.Sleep(10 * time.Millisecond)
	c.Touch()
	second, armed := c.scheduler.Deadline()
	if !armed || !second.After(first) {
		t.Fatalf("touch must push the deadline forward: %v -> %v", first, second)
	}
}

func TestCloseStopsCallbacks(t *testing.T) {
	c, p, _, _ := newTestClient(testConfig())

	p.Profiles["u1"] = &provider.ProfileRow{ID: "u1"}
	c.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	p.Emit(provider.AuthEvent{
		Type:    provider.EventSignedIn,
		Session: &provider.RemoteSession{UserID: "u1", AccessToken: "tok"},
	})
	time.Sleep(20 * time.Millisecond)
	if c.Sessions().Current() != nil {
		t.Fatal("no event may touch the session store after teardown")
	}
}

func TestCachedReadsServeReplica(t *testing.T) {
	c, _, _, local := newTestClient(testConfig())
	defer c.Close()

	local.SeedReplica(
		[]booking.Room{{ID: "r1", Name: "Atlas"}},
		[]booking.Booking{{ID: "b1", RoomID: "r1"}},
	)

	rooms, err := c.CachedRooms(context.Background())
	if err != nil || len(rooms) != 1 {
		t.Fatalf("expected cached rooms, got %v, %v", rooms, err)
	}
	bookings, err := c.CachedBookings(context.Background())
	if err != nil || len(bookings) != 1 {
		t.Fatalf("expected cached bookings, got %v, %v", bookings, err)
	}
}
