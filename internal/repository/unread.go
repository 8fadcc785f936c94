package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/logger"
)

// UnreadRepository owns the unread_counters rows. Every mutation is a single
// SQL statement so concurrent increments serialize on the row itself; no
// component outside the unread engine calls these methods.
type UnreadRepository struct {
	pool *pgxpool.Pool
}

func NewUnreadRepository(pool *pgxpool.Pool) *UnreadRepository {
	return &UnreadRepository{pool: pool}
}

// IncrementIfStale bumps the counter by one unless last_read_at is at or
// after staleBefore (the caller passes now minus the grace window). The row
// is created lazily with last_read_at at epoch, so a first increment always
// applies. Returns the new count and whether the increment happened.
func (r *UnreadRepository) IncrementIfStale(ctx context.Context, roomID, userID string, staleBefore time.Time) (int, bool, error) {
	defer logger.DeferLogDuration("unread.IncrementIfStale", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`INSERT INTO unread_counters (room_id, user_id, count, last_read_at)
		 VALUES ($1, $2, 1, 'epoch')
		 ON CONFLICT (room_id, user_id) DO UPDATE
		 SET count = unread_counters.count + 1
		 WHERE unread_counters.last_read_at <= $3
		 RETURNING count`,
		roomID, userID, staleBefore,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		// Guard rejected the update: the participant read recently.
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("unreadRepo.IncrementIfStale: %w", err)
	}
	return count, true, nil
}

// Reset zeroes the counter and stamps last_read_at, creating the row when
// missing. Unconditional: this both clears state and re-arms the grace
// window for subsequent increments.
func (r *UnreadRepository) Reset(ctx context.Context, roomID, userID string, at time.Time) error {
	defer logger.DeferLogDuration("unread.Reset", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO unread_counters (room_id, user_id, count, last_read_at)
		 VALUES ($1, $2, 0, $3)
		 ON CONFLICT (room_id, user_id) DO UPDATE
		 SET count = 0, last_read_at = $3`,
		roomID, userID, at,
	)
	if err != nil {
		return fmt.Errorf("unreadRepo.Reset: %w", err)
	}
	return nil
}

// AggregateForUser sums counter rows per room over the user's active
// memberships. Normally one row per room; SUM also covers any stray extras.
func (r *UnreadRepository) AggregateForUser(ctx context.Context, userID string) (map[string]int, error) {
	defer logger.DeferLogDuration("unread.AggregateForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT rm.room_id, COALESCE(SUM(uc.count), 0)
		 FROM room_members rm
		 LEFT JOIN unread_counters uc ON uc.room_id = rm.room_id AND uc.user_id = rm.user_id
		 WHERE rm.user_id = $1 AND rm.left_at IS NULL
		 GROUP BY rm.room_id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("unreadRepo.AggregateForUser query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, 16)
	for rows.Next() {
		var roomID string
		var count int
		if err := rows.Scan(&roomID, &count); err != nil {
			return nil, fmt.Errorf("unreadRepo.AggregateForUser scan: %w", err)
		}
		counts[roomID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unreadRepo.AggregateForUser rows: %w", err)
	}
	return counts, nil
}
