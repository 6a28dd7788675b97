// Package replica keeps a bounded local copy of booking data fresh for
// offline use.
package replica

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roomsync/internal/domain/booking"
	xerrors "roomsync/internal/pkg/errors"
	"roomsync/internal/provider"
	"roomsync/internal/session"
	"roomsync/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Replicator fetches active rooms plus the current user's bookings inside the
// replication window and atomically replaces the local replica. Concurrent
// invocations coalesce onto one in-flight run; any fetch failure leaves the
// replica at its last-known-good state.
type Replicator struct {
	api      provider.BookingAPI
	local    store.LocalStore
	sessions *session.Store
	window   booking.ReplicationWindow
	interval time.Duration
	online   func(ctx context.Context) bool
	logger   *zap.Logger
	now      func() time.Time

	group singleflight.Group
}

func NewReplicator(
	api provider.BookingAPI,
	local store.LocalStore,
	sessions *session.Store,
	window booking.ReplicationWindow,
	interval time.Duration,
	online func(ctx context.Context) bool,
	logger *zap.Logger,
) *Replicator {
	if online == nil {
		online = func(context.Context) bool { return true }
	}
	return &Replicator{
		api:      api,
		local:    local,
		sessions: sessions,
		window:   window,
		interval: interval,
		online:   online,
		logger:   logger,
		now:      time.Now,
	}
}

// Replicate refreshes the local replica. A call made while another is in
// flight joins it instead of starting a second fetch pair.
func (r *Replicator) Replicate(ctx context.Context) error {
	_, err, _ := r.group.Do("replicate", func() (interface{}, error) {
		return nil, r.replicateOnce(ctx)
	})
	return err
}

func (r *Replicator) replicateOnce(ctx context.Context) error {
	sess := r.sessions.Current()
	if sess == nil {
		return xerrors.ErrNoSession
	}
	if !r.online(ctx) {
		return xerrors.ErrOffline
	}

	rooms, err := r.api.ActiveRooms(ctx)
	if err != nil {
		return fmt.Errorf("%w: fetch rooms: %w", xerrors.ErrSyncFailed, err)
	}

	from, to := r.window.Bounds(r.now())
	bookings, err := r.api.BookingsInRange(ctx, sess.ID, from, to)
	if err != nil {
		return fmt.Errorf("%w: fetch bookings: %w", xerrors.ErrSyncFailed, err)
	}

	// Both fetches succeeded; commit both record sets or neither.
	if err := r.local.ReplaceReplica(ctx, rooms, bookings); err != nil {
		return fmt.Errorf("%w: replace replica: %w", xerrors.ErrSyncFailed, err)
	}

	r.logger.Info("replica refreshed",
		zap.Int("rooms", len(rooms)),
		zap.Int("bookings", len(bookings)),
		zap.Time("window_from", from),
		zap.Time("window_to", to))
	return nil
}

// Run replicates on a fixed interval until ctx is done. Failures are logged
// and retried on the next tick, never immediately.
func (r *Replicator) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Replicate(ctx); err != nil {
				if errors.Is(err, xerrors.ErrNoSession) || errors.Is(err, xerrors.ErrOffline) {
					r.logger.Debug("skipping scheduled replication", zap.Error(err))
					continue
				}
				r.logger.Warn("scheduled replication failed, keeping last-known-good replica", zap.Error(err))
			}
		}
	}
}
