package testfixtures

import (
	"context"
	"sync"

	"roomsync/internal/domain/booking"
)

// MemoryStore is an in-memory LocalStore for tests.
type MemoryStore struct {
	mu sync.Mutex

	kv       map[string][]byte
	rooms    []booking.Room
	bookings []booking.Booking

	// ReplaceErr makes ReplaceReplica fail without touching the record sets.
	ReplaceErr   error
	replaceCalls int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kv: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.kv[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *MemoryStore) ReplaceReplica(ctx context.Context, rooms []booking.Room, bookings []booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceCalls++
	if m.ReplaceErr != nil {
		return m.ReplaceErr
	}
	m.rooms = append([]booking.Room(nil), rooms...)
	m.bookings = append([]booking.Booking(nil), bookings...)
	return nil
}

func (m *MemoryStore) Rooms(ctx context.Context) ([]booking.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]booking.Room(nil), m.rooms...), nil
}

func (m *MemoryStore) Bookings(ctx context.Context) ([]booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]booking.Booking(nil), m.bookings...), nil
}

func (m *MemoryStore) Close() error { return nil }

// SeedReplica installs a known-good replica state.
func (m *MemoryStore) SeedReplica(rooms []booking.Room, bookings []booking.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = append([]booking.Room(nil), rooms...)
	m.bookings = append([]booking.Booking(nil), bookings...)
}

// ReplaceCalls reports how many replace attempts were made.
func (m *MemoryStore) ReplaceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaceCalls
}
