package replica

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"roomsync/internal/domain/booking"
	"roomsync/internal/domain/identity"
	xerrors "roomsync/internal/pkg/errors"
	"roomsync/internal/session"
	"roomsync/internal/testfixtures"

	"go.uber.org/zap"
)

func newReplicator(api *testfixtures.BookingAPI, local *testfixtures.MemoryStore) (*Replicator, *session.Store) {
	sessions := session.NewStore(zap.NewNop())
	r := NewReplicator(api, local, sessions, booking.DefaultWindow(), time.Hour, api.Healthy, zap.NewNop())
	return r, sessions
}

func TestReplicateRefreshesReplica(t *testing.T) {
	api := testfixtures.NewBookingAPI()
	api.RoomsResult = []booking.Room{{ID: "r1", Name: "Atlas", Status: booking.RoomStatusActive}}
	api.BookingsResult = []booking.Booking{{ID: "b1", RoomID: "r1", UserID: "u1"}}
	local := testfixtures.NewMemoryStore()
	r, sessions := newReplicator(api, local)
	sessions.Set(&identity.Session{ID: "u1"})

	if err := r.Replicate(context.Background()); err != nil {
		t.Fatalf("replicate: %v", err)
	}

	rooms, _ := local.Rooms(context.Background())
	bookings, _ := local.Bookings(context.Background())
	if len(rooms) != 1 || len(bookings) != 1 {
		t.Fatalf("expected replica of 1 room and 1 booking, got %d/%d", len(rooms), len(bookings))
	}

	userID, from, to := api.LastQuery()
	if userID != "u1" {
		t.Fatalf("expected bookings query for u1, got %q", userID)
	}
	if window := to.Sub(from); window < 89*24*time.Hour || window > 91*24*time.Hour {
		t.Fatalf("expected a 30d+60d window, got %v", window)
	}
}

func TestReplicateWithoutSessionReportsNoSession(t *testing.T) {
	api := testfixtures.NewBookingAPI()
	local := testfixtures.NewMemoryStore()
	r, _ := newReplicator(api, local)

	err := r.Replicate(context.Background())
	if !errors.Is(err, xerrors.ErrNoSession) {
		t.Fatalf("replicate without session must report ErrNoSession, got %v", err)
	}
	if rooms, _ := api.Calls(); rooms != 0 {
		t.Fatal("expected no fetches without a session")
	}
	if local.ReplaceCalls() != 0 {
		t.Fatal("expected no replica write without a session")
	}
}

func TestReplicateSkipsWhileOffline(t *testing.T) {
	api := testfixtures.NewBookingAPI()
	api.Offline = true
	r, sessions := newReplicator(api, testfixtures.NewMemoryStore())
	sessions.Set(&identity.Session{ID: "u1"})

	err := r.Replicate(context.Background())
	if !errors.Is(err, xerrors.ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if rooms, _ := api.Calls(); rooms != 0 {
		t.Fatal("offline replication must not issue fetches")
	}
}

func TestReplicateKeepsLastKnownGoodOnBookingsFailure(t *testing.T) {
	api := testfixtures.NewBookingAPI()
	api.RoomsResult = []booking.Room{{ID: "new", Name: "New Room", Status: booking.RoomStatusActive}}
	api.BookingsErr = errors.New("network dropped")

	local := testfixtures.NewMemoryStore()
	seeded := []booking.Room{{ID: "old", Name: "Old Room", Status: booking.RoomStatusActive}}
	local.SeedReplica(seeded, nil)

	r, sessions := newReplicator(api, local)
	sessions.Set(&identity.Session{ID: "u1"})

	err := r.Replicate(context.Background())
	if !errors.Is(err, xerrors.ErrSyncFailed) {
		t.Fatalf("expected ErrSyncFailed, got %v", err)
	}

	// The rooms fetch succeeded, but nothing may be committed.
	rooms, _ := local.Rooms(context.Background())
	if len(rooms) != 1 || rooms[0].ID != "old" {
		t.Fatalf("expected untouched replica, got %+v", rooms)
	}
	if local.ReplaceCalls() != 0 {
		t.Fatal("no replace may be attempted after a failed fetch")
	}
}

func TestReplicateKeepsReplicaWhenCommitFails(t *testing.T) {
	api := testfixtures.NewBookingAPI()
	api.RoomsResult = []booking.Room{{ID: "new", Status: booking.RoomStatusActive}}
	local := testfixtures.NewMemoryStore()
	local.SeedReplica([]booking.Room{{ID: "old"}}, nil)
	local.ReplaceErr = errors.New("disk full")

	r, sessions := newReplicator(api, local)
	sessions.Set(&identity.Session{ID: "u1"})

	if err := r.Replicate(context.Background()); !errors.Is(err, xerrors.ErrSyncFailed) {
		t.Fatalf("expected ErrSyncFailed, got %v", err)
	}
	rooms, _ := local.Rooms(context.Background())
	if len(rooms) != 1 || rooms[0].ID != "old" {
		t.Fatalf("expected untouched replica, got %+v", rooms)
	}
}

func TestReplicateCoalescesConcurrentCalls(t *testing.T) {
	api := testfixtures.NewBookingAPI()
	api.RoomsResult = []booking.Room{{ID: "r1", Status: booking.RoomStatusActive}}
	api.FetchDelay = 25 * time.Millisecond

	r, sessions := newReplicator(api, testfixtures.NewMemoryStore())
	sessions.Set(&identity.Session{ID: "u1"})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Replicate(context.Background()); err != nil {
				t.Errorf("replicate: %v", err)
			}
		}()
	}
	wg.Wait()

	roomCalls, bookingCalls := api.Calls()
	if roomCalls != 1 || bookingCalls != 1 {
		t.Fatalf("expected one fetch pair for two concurrent calls, got %d/%d", roomCalls, bookingCalls)
	}

	// A later call starts a fresh run.
	if err := r.Replicate(context.Background()); err != nil {
		t.Fatalf("replicate: %v", err)
	}
	roomCalls, bookingCalls = api.Calls()
	if roomCalls != 2 || bookingCalls != 2 {
		t.Fatalf("expected a second fetch pair after completion, got %d/%d", roomCalls, bookingCalls)
	}
}
