package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/avoronov/callbridge/internal/domain"
)

// ErrNoMember means no membership record exists for the (room, user)
// pair. The state machine maps this to its own taxonomy.
var ErrNoMember = errors.New("no membership record")

// CreateRoom inserts the room and its initial membership rows in one
// transaction. The owner is accepted immediately; invitee status is
// decided by the caller (direct rooms auto-accept).
func (s *Store) CreateRoom(ctx context.Context, kind domain.RoomKind, ownerID domain.UserID, invitees []domain.UserID, inviteeStatus domain.MemberStatus) (*domain.Room, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	room := &domain.Room{
		ID:      domain.RoomID(uuid.NewString()),
		Kind:    kind,
		OwnerID: ownerID,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO rooms (id, kind, owner_id) VALUES ($1, $2, $3) RETURNING created_at`,
		string(room.ID), string(kind), int64(ownerID),
	).Scan(&room.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	now := time.Now()
	_, err = tx.Exec(ctx,
		`INSERT INTO room_members (room_id, user_id, status, joined_at) VALUES ($1, $2, $3, $4)`,
		string(room.ID), int64(ownerID), string(domain.MemberAccepted), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert owner member: %w", err)
	}

	for _, uid := range invitees {
		if uid == ownerID {
			continue
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO room_members (room_id, user_id, status) VALUES ($1, $2, $3)
			 ON CONFLICT (room_id, user_id) DO NOTHING`,
			string(room.ID), int64(uid), string(inviteeStatus),
		)
		if err != nil {
			return nil, fmt.Errorf("insert invitee member: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return room, nil
}

// FindDirectRoom looks for an existing direct room containing both
// users regardless of member status. Direct rooms are unique per pair
// and reused instead of duplicated.
func (s *Store) FindDirectRoom(ctx context.Context, a, b domain.UserID) (*domain.Room, error) {
	var room domain.Room
	err := s.pool.QueryRow(ctx, `
		SELECT r.id, r.kind, r.owner_id, r.created_at
		FROM rooms r
		JOIN room_members m1 ON r.id = m1.room_id
		JOIN room_members m2 ON r.id = m2.room_id
		WHERE r.kind = 'direct' AND m1.user_id = $1 AND m2.user_id = $2
		LIMIT 1
	`, int64(a), int64(b)).Scan(&room.ID, &room.Kind, &room.OwnerID, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find direct room: %w", err)
	}
	return &room, nil
}

func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var room domain.Room
	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, owner_id, created_at FROM rooms WHERE id = $1`,
		string(id),
	).Scan(&room.ID, &room.Kind, &room.OwnerID, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoMember
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &room, nil
}

func (s *Store) GetMember(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.RoomMember, error) {
	var m domain.RoomMember
	err := s.pool.QueryRow(ctx,
		`SELECT room_id, user_id, status, joined_at, left_at
		 FROM room_members WHERE room_id = $1 AND user_id = $2`,
		string(roomID), int64(userID),
	).Scan(&m.RoomID, &m.UserID, &m.Status, &m.JoinedAt, &m.LeftAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoMember
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

// UpsertPending creates a pending record, or restores a left record to
// pending and clears left_at. An existing pending or accepted record is
// untouched.
func (s *Store) UpsertPending(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id, status) VALUES ($1, $2, 'pending')
		ON CONFLICT (room_id, user_id) DO UPDATE
		SET status = 'pending', left_at = NULL
		WHERE room_members.status = 'left'
	`, string(roomID), int64(userID))
	if err != nil {
		return fmt.Errorf("upsert pending member: %w", err)
	}
	return nil
}

// RestoreAccepted puts a member back to accepted without touching
// joined_at: reuse of a direct room silently restores departed members,
// it is not a join. A missing record is inserted with a NULL joined_at,
// which stays NULL until the member actually connects.
func (s *Store) RestoreAccepted(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id, status) VALUES ($1, $2, 'accepted')
		ON CONFLICT (room_id, user_id) DO UPDATE
		SET status = 'accepted', left_at = NULL
	`, string(roomID), int64(userID))
	if err != nil {
		return fmt.Errorf("restore accepted: %w", err)
	}
	return nil
}

// MarkAccepted transitions an existing record to accepted, refreshing
// joined_at and clearing left_at. Idempotent when already accepted.
func (s *Store) MarkAccepted(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE room_members
		SET status = 'accepted', joined_at = NOW(), left_at = NULL
		WHERE room_id = $1 AND user_id = $2
	`, string(roomID), int64(userID))
	if err != nil {
		return fmt.Errorf("mark accepted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoMember
	}
	return nil
}

func (s *Store) MarkLeft(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE room_members
		SET status = 'left', left_at = NOW()
		WHERE room_id = $1 AND user_id = $2
	`, string(roomID), int64(userID))
	if err != nil {
		return fmt.Errorf("mark left: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoMember
	}
	return nil
}

func (s *Store) RoomMembers(ctx context.Context, roomID domain.RoomID) ([]domain.RoomMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT room_id, user_id, status, joined_at, left_at
		 FROM room_members WHERE room_id = $1`,
		string(roomID))
	if err != nil {
		return nil, fmt.Errorf("room members: %w", err)
	}
	defer rows.Close()

	var out []domain.RoomMember
	for rows.Next() {
		var m domain.RoomMember
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Status, &m.JoinedAt, &m.LeftAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
