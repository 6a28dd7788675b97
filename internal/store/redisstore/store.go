// Package redisstore is an alternate LocalStore driver for kiosk deployments
// that share a cache box instead of writing to local disk.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"roomsync/internal/domain/booking"
	xerrors "roomsync/internal/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix   = "roomsync:"
	roomsKey    = keyPrefix + "replica:rooms"
	bookingsKey = keyPrefix + "replica:bookings"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Store implements store.LocalStore over Redis. Replica replacement runs in
// a MULTI/EXEC pipeline so both record sets change together.
type Store struct {
	client *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Open connects to Redis and verifies the connection.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("no Redis address provided")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Store{client: client, logger: logger}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *Store) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return xerrors.ErrStoreClosed
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.client.Set(ctx, keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) ReplaceReplica(ctx context.Context, rooms []booking.Room, bookings []booking.Booking) error {
	if err := s.guard(); err != nil {
		return err
	}
	roomsData, err := json.Marshal(rooms)
	if err != nil {
		return fmt.Errorf("marshal rooms: %w", err)
	}
	bookingsData, err := json.Marshal(bookings)
	if err != nil {
		return fmt.Errorf("marshal bookings: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, roomsKey, roomsData, 0)
		pipe.Set(ctx, bookingsKey, bookingsData, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace replica: %w", err)
	}
	return nil
}

func (s *Store) Rooms(ctx context.Context) ([]booking.Room, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, roomsKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached rooms: %w", err)
	}
	var rooms []booking.Room
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, fmt.Errorf("unmarshal cached rooms: %w", err)
	}
	return rooms, nil
}

func (s *Store) Bookings(ctx context.Context) ([]booking.Booking, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, bookingsKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached bookings: %w", err)
	}
	var bookings []booking.Booking
	if err := json.Unmarshal(data, &bookings); err != nil {
		return nil, fmt.Errorf("unmarshal cached bookings: %w", err)
	}
	return bookings, nil
}
