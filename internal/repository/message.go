package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/logger"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, room_id, author_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.RoomID, m.AuthorID, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, room_id, author_id, content, created_at FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Content, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListByRoom returns a history page, newest first. Ties on created_at are
// broken by id so pagination stays stable under concurrent sends.
func (r *MessageRepository) ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByRoom", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, room_id, author_id, content, created_at
		 FROM messages
		 WHERE room_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`, roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByRoom query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByRoom scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByRoom rows: %w", err)
	}
	return messages, nil
}

// CountByRoom is used by clients to recompute "has more" after a merge.
func (r *MessageRepository) CountByRoom(ctx context.Context, roomID string) (int, error) {
	defer logger.DeferLogDuration("msg.CountByRoom", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE room_id = $1`, roomID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.CountByRoom: %w", err)
	}
	return count, nil
}
