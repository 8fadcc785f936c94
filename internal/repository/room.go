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

var ErrNotFound = errors.New("not found")

const roomCols = `id, name, kind, subject_ref, created_by, created_at, updated_at`

// RoomRepository is the membership store: rooms, their participants and the
// soft-delete/restore lifecycle of each participant.
type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

func scanRoom(s interface{ Scan(dest ...any) error }, r *model.Room) error {
	return s.Scan(&r.ID, &r.Name, &r.Kind, &r.SubjectRef, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
}

func (r *RoomRepository) Create(ctx context.Context, room *model.Room) error {
	defer logger.DeferLogDuration("room.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rooms (id, name, kind, subject_ref, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		room.ID, room.Name, room.Kind, room.SubjectRef, room.CreatedBy, room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Create: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	room := &model.Room{}
	row := r.pool.QueryRow(ctx, `SELECT `+roomCols+` FROM rooms WHERE id = $1`, id)
	if err := scanRoom(row, room); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("roomRepo.GetByID: %w", err)
	}
	return room, nil
}

// AddMember inserts a membership row if none exists for (room, user).
// Returns false when the row was already there, active or departed; the
// uniqueness constraint is what keeps concurrent joins collision-free.
func (r *RoomRepository) AddMember(ctx context.Context, m *model.Participant) (bool, error) {
	defer logger.DeferLogDuration("room.AddMember", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO room_members (room_id, user_id, role, joined_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		m.RoomID, m.UserID, m.Role, m.JoinedAt,
	)
	if err != nil {
		return false, fmt.Errorf("roomRepo.AddMember: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RoomRepository) GetMember(ctx context.Context, roomID, userID string) (*model.Participant, error) {
	defer logger.DeferLogDuration("room.GetMember", time.Now())()
	p := &model.Participant{}
	err := r.pool.QueryRow(ctx,
		`SELECT room_id, user_id, role, joined_at, left_at
		 FROM room_members WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&p.RoomID, &p.UserID, &p.Role, &p.JoinedAt, &p.LeftAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetMember: %w", err)
	}
	return p, nil
}

// SoftDeleteMember marks the membership as departed. Calling it again for an
// already departed (or missing) member is a no-op.
func (r *RoomRepository) SoftDeleteMember(ctx context.Context, roomID, userID string, at time.Time) error {
	defer logger.DeferLogDuration("room.SoftDeleteMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE room_members SET left_at = $3
		 WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL`,
		roomID, userID, at,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.SoftDeleteMember: %w", err)
	}
	return nil
}

// ListMembers returns every membership row of the room, departed included.
func (r *RoomRepository) ListMembers(ctx context.Context, roomID string) ([]model.Participant, error) {
	defer logger.DeferLogDuration("room.ListMembers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT room_id, user_id, role, joined_at, left_at
		 FROM room_members WHERE room_id = $1 ORDER BY joined_at`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ListMembers query: %w", err)
	}
	defer rows.Close()

	members := make([]model.Participant, 0, 8)
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.Role, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, fmt.Errorf("roomRepo.ListMembers scan: %w", err)
		}
		members = append(members, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.ListMembers rows: %w", err)
	}
	return members, nil
}

// ActiveMemberIDs returns the user IDs of members that have not departed.
func (r *RoomRepository) ActiveMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	defer logger.DeferLogDuration("room.ActiveMemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM room_members WHERE room_id = $1 AND left_at IS NULL`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.ActiveMemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("roomRepo.ActiveMemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.ActiveMemberIDs rows: %w", err)
	}
	return ids, nil
}

// RestoreAllDeparted clears left_at for every departed member of the room and
// returns their user IDs. This is the only place departure is reversed.
func (r *RoomRepository) RestoreAllDeparted(ctx context.Context, roomID string) ([]string, error) {
	defer logger.DeferLogDuration("room.RestoreAllDeparted", time.Now())()
	rows, err := r.pool.Query(ctx,
		`UPDATE room_members SET left_at = NULL
		 WHERE room_id = $1 AND left_at IS NOT NULL
		 RETURNING user_id`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.RestoreAllDeparted query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("roomRepo.RestoreAllDeparted scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.RestoreAllDeparted rows: %w", err)
	}
	return ids, nil
}

// RoomsForUser returns rooms where the user has an active membership.
func (r *RoomRepository) RoomsForUser(ctx context.Context, userID string) ([]model.Room, error) {
	defer logger.DeferLogDuration("room.RoomsForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.name, r.kind, r.subject_ref, r.created_by, r.created_at, r.updated_at
		 FROM rooms r
		 JOIN room_members rm ON rm.room_id = r.id
		 WHERE rm.user_id = $1 AND rm.left_at IS NULL
		 ORDER BY r.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.RoomsForUser query: %w", err)
	}
	defer rows.Close()
	return collectRooms(rows, "roomRepo.RoomsForUser")
}

// OpenRooms returns every room of kind open.
func (r *RoomRepository) OpenRooms(ctx context.Context) ([]model.Room, error) {
	defer logger.DeferLogDuration("room.OpenRooms", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+roomCols+` FROM rooms WHERE kind = 'open' ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.OpenRooms query: %w", err)
	}
	defer rows.Close()
	return collectRooms(rows, "roomRepo.OpenRooms")
}

func collectRooms(rows pgx.Rows, op string) ([]model.Room, error) {
	rooms := make([]model.Room, 0, 16)
	for rows.Next() {
		var room model.Room
		if err := scanRoom(rows, &room); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return rooms, nil
}
