// Package unread maintains the per-participant unread counters.
//
// The engine is the only writer of counter state. Increments are debounced by
// a grace window: a participant whose room view sends the periodic "I'm
// reading this" heartbeat keeps a fresh last_read_at, and messages arriving
// inside the window do not inflate their count. The guard is a pure function
// of (now, lastReadAt); the store enforces the same predicate inside its
// atomic conditional update, so concurrent increments need no external lock.
package unread

import (
	"context"
	"time"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/model"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/repository"
)

// DeltaSink receives counter deltas for fan-out. Implemented by the event
// broadcaster; delivery is best-effort and never fails the mutation.
type DeltaSink interface {
	UnreadChanged(delta model.UnreadDelta)
}

// WithinGrace reports whether a read at lastReadAt is recent enough, as of
// now, to suppress an increment. Exactly-at-window reads are stale.
func WithinGrace(now, lastReadAt time.Time, window time.Duration) bool {
	return now.Sub(lastReadAt) < window
}

type Engine struct {
	store  repository.UnreadStore
	sink   DeltaSink
	window time.Duration
	now    func() time.Time
}

func NewEngine(store repository.UnreadStore, sink DeltaSink, window time.Duration) *Engine {
	return &Engine{
		store:  store,
		sink:   sink,
		window: window,
		now:    time.Now,
	}
}

// Window exposes the configured grace window (for the config endpoint).
func (e *Engine) Window() time.Duration { return e.window }

// Increment bumps the participant's counter unless their last read falls
// inside the grace window. A delta event is emitted only when the count
// actually changed.
func (e *Engine) Increment(ctx context.Context, roomID, userID string) error {
	now := e.now().UTC()
	count, bumped, err := e.store.IncrementIfStale(ctx, roomID, userID, now.Add(-e.window))
	if err != nil {
		return err
	}
	if !bumped {
		return nil
	}
	e.sink.UnreadChanged(model.UnreadDelta{
		RoomID:      roomID,
		UserID:      userID,
		UnreadCount: count,
		Timestamp:   now,
	})
	return nil
}

// MarkRead zeroes the counter and re-arms the grace window. Called both for
// the explicit "opened the room" action and for the recurring heartbeat of
// an open room view. A zero delta is emitted so other devices of the same
// user clear their badge.
func (e *Engine) MarkRead(ctx context.Context, roomID, userID string) error {
	now := e.now().UTC()
	if err := e.store.Reset(ctx, roomID, userID, now); err != nil {
		return err
	}
	e.sink.UnreadChanged(model.UnreadDelta{
		RoomID:      roomID,
		UserID:      userID,
		UnreadCount: 0,
		Timestamp:   now,
	})
	return nil
}

// AggregateForUser returns per-room unread totals across the user's active
// participations, for room-list badges.
func (e *Engine) AggregateForUser(ctx context.Context, userID string) (map[string]int, error) {
	return e.store.AggregateForUser(ctx, userID)
}
