package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"roomsync/internal/domain/booking"
	xerrors "roomsync/internal/pkg/errors"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "roomsync.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKeyValueRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if data, err := s.Get(ctx, "missing"); err != nil || data != nil {
		t.Fatalf("expected nil for missing key, got %v, %v", data, err)
	}

	if err := s.Set(ctx, "session_snapshot", []byte(`{"id":"u1"}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "session_snapshot", []byte(`{"id":"u2"}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, err := s.Get(ctx, "session_snapshot")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != `{"id":"u2"}` {
		t.Fatalf("expected overwritten value, got %s", data)
	}

	if err := s.Delete(ctx, "session_snapshot"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if data, _ := s.Get(ctx, "session_snapshot"); data != nil {
		t.Fatal("expected key removed")
	}
}

func TestOperationsAfterCloseReportStoreClosed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close must be idempotent, got %v", err)
	}

	if _, err := s.Get(ctx, "session_snapshot"); !errors.Is(err, xerrors.ErrStoreClosed) {
		t.Fatalf("get after close: expected ErrStoreClosed, got %v", err)
	}
	if err := s.Set(ctx, "session_snapshot", []byte(`{}`)); !errors.Is(err, xerrors.ErrStoreClosed) {
		t.Fatalf("set after close: expected ErrStoreClosed, got %v", err)
	}
	if err := s.ReplaceReplica(ctx, nil, nil); !errors.Is(err, xerrors.ErrStoreClosed) {
		t.Fatalf("replace after close: expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.Rooms(ctx); !errors.Is(err, xerrors.ErrStoreClosed) {
		t.Fatalf("rooms after close: expected ErrStoreClosed, got %v", err)
	}
}

func TestReplaceReplicaReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	first := []booking.Room{
		{ID: "r1", Name: "Atlas", Capacity: 8, Status: booking.RoomStatusActive,
			Amenities: []string{"screen", "whiteboard"}, CreatedAt: now, UpdatedAt: now},
		{ID: "r2", Name: "Borealis", Capacity: 4, Status: booking.RoomStatusActive,
			CreatedAt: now, UpdatedAt: now},
	}
	if err := s.ReplaceReplica(ctx, first, []booking.Booking{
		{ID: "b1", RoomID: "r1", UserID: "u1", Title: "Standup",
			StartsAt: now, EndsAt: now.Add(30 * time.Minute), CreatedAt: now, UpdatedAt: now},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	second := []booking.Room{
		{ID: "r3", Name: "Cypress", Capacity: 12, Status: booking.RoomStatusActive,
			CreatedAt: now, UpdatedAt: now},
	}
	if err := s.ReplaceReplica(ctx, second, nil); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	rooms, err := s.Rooms(ctx)
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "r3" {
		t.Fatalf("expected wholesale replacement, got %+v", rooms)
	}

	bookings, err := s.Bookings(ctx)
	if err != nil {
		t.Fatalf("bookings: %v", err)
	}
	if len(bookings) != 0 {
		t.Fatalf("expected bookings cleared with the same commit, got %+v", bookings)
	}
}

func TestReplicaRoundTripPreservesFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

	rooms := []booking.Room{{
		ID: "r1", Name: "Atlas", Location: "4F", Capacity: 8,
		Status: booking.RoomStatusActive, Amenities: []string{"screen"},
		CreatedAt: now, UpdatedAt: now,
	}}
	bookings := []booking.Booking{{
		ID: "b1", RoomID: "r1", UserID: "u1", Title: "Design review",
		StartsAt: now, EndsAt: now.Add(time.Hour), Attendees: 6,
		CreatedAt: now, UpdatedAt: now,
	}}
	if err := s.ReplaceReplica(ctx, rooms, bookings); err != nil {
		t.Fatalf("replace: %v", err)
	}

	gotRooms, _ := s.Rooms(ctx)
	if len(gotRooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(gotRooms))
	}
	r := gotRooms[0]
	if r.Name != "Atlas" || r.Location != "4F" || r.Capacity != 8 ||
		r.Status != booking.RoomStatusActive || len(r.Amenities) != 1 {
		t.Fatalf("room fields lost in round trip: %+v", r)
	}

	gotBookings, _ := s.Bookings(ctx)
	if len(gotBookings) != 1 {
		t.Fatalf("expected 1 booking, got %d", len(gotBookings))
	}
	b := gotBookings[0]
	if b.Title != "Design review" || b.Attendees != 6 || !b.StartsAt.Equal(now) {
		t.Fatalf("booking fields lost in round trip: %+v", b)
	}
}
