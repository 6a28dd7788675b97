// Package sqlitestore is the default LocalStore driver, backed by an embedded
// SQLite database file.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"roomsync/internal/domain/booking"
	xerrors "roomsync/internal/pkg/errors"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	location   TEXT NOT NULL DEFAULT '',
	capacity   INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL,
	amenities  TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS bookings (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	starts_at  TIMESTAMP NOT NULL,
	ends_at    TIMESTAMP NOT NULL,
	attendees  INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// Store implements store.LocalStore over a single SQLite file. Replica
// replacement runs in one transaction, which gives the required all-or-nothing
// visibility.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open creates or opens the database file and ensures the schema exists.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// modernc sqlite serializes writers; a single connection avoids lock
	// contention errors under concurrent use.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply local store schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// guard rejects use after Close with a typed error instead of whatever the
// closed connection would report.
func (s *Store) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return xerrors.ErrStoreClosed
	}
	return nil
}

// ========== Key/Value ==========

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// ========== Replica ==========

func (s *Store) ReplaceReplica(ctx context.Context, rooms []booking.Room, bookings []booking.Booking) error {
	if err := s.guard(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replica replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms`); err != nil {
		return fmt.Errorf("clear rooms: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bookings`); err != nil {
		return fmt.Errorf("clear bookings: %w", err)
	}

	for _, room := range rooms {
		amenities, err := json.Marshal(room.Amenities)
		if err != nil {
			return fmt.Errorf("marshal amenities for room %s: %w", room.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (id, name, location, capacity, status, amenities, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			room.ID, room.Name, room.Location, room.Capacity, string(room.Status),
			string(amenities), room.CreatedAt, room.UpdatedAt); err != nil {
			return fmt.Errorf("insert room %s: %w", room.ID, err)
		}
	}

	for _, b := range bookings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bookings (id, room_id, user_id, title, starts_at, ends_at, attendees, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.RoomID, b.UserID, b.Title, b.StartsAt, b.EndsAt,
			b.Attendees, b.CreatedAt, b.UpdatedAt); err != nil {
			return fmt.Errorf("insert booking %s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replica replace: %w", err)
	}
	return nil
}

func (s *Store) Rooms(ctx context.Context) ([]booking.Room, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, location, capacity, status, amenities, created_at, updated_at
		 FROM rooms ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var result []booking.Room
	for rows.Next() {
		var room booking.Room
		var status, amenities string
		if err := rows.Scan(&room.ID, &room.Name, &room.Location, &room.Capacity,
			&status, &amenities, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		room.Status = booking.RoomStatus(status)
		if err := json.Unmarshal([]byte(amenities), &room.Amenities); err != nil {
			s.logger.Warn("unreadable amenities for cached room", zap.String("room_id", room.ID), zap.Error(err))
		}
		result = append(result, room)
	}
	return result, rows.Err()
}

func (s *Store) Bookings(ctx context.Context) ([]booking.Booking, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, user_id, title, starts_at, ends_at, attendees, created_at, updated_at
		 FROM bookings ORDER BY starts_at`)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var result []booking.Booking
	for rows.Next() {
		var b booking.Booking
		if err := rows.Scan(&b.ID, &b.RoomID, &b.UserID, &b.Title, &b.StartsAt,
			&b.EndsAt, &b.Attendees, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}
