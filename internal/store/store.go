// Package store defines the local persistence capability: a small key/value
// area for the session snapshot plus the named record sets of the offline
// replica.
package store

import (
	"context"

	"roomsync/internal/domain/booking"
)

// SnapshotKey is the key under which the remember-me session snapshot lives.
const SnapshotKey = "session_snapshot"

// LocalStore is the consumed persistence capability. ReplaceReplica must be
// atomic: after a failed call, readers observe exactly the record sets that
// were present before it.
type LocalStore interface {
	// Get returns the value for key, or (nil, nil) when absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// ReplaceReplica replaces both record sets in one commit.
	ReplaceReplica(ctx context.Context, rooms []booking.Room, bookings []booking.Booking) error
	Rooms(ctx context.Context) ([]booking.Room, error)
	Bookings(ctx context.Context) ([]booking.Booking, error)

	Close() error
}
