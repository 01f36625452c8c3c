package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/avoronov/callbridge/internal/domain"
)

func (s *Store) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, availability FROM users WHERE id = $1`,
		int64(id),
	).Scan(&u.ID, &u.Username, &u.Availability)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// SetAvailability persists the availability field. It reports
// domain.ErrUnknownUser when no row matched, so presence can close the
// connection instead of retrying.
func (s *Store) SetAvailability(ctx context.Context, id domain.UserID, a domain.Availability) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET availability = $2 WHERE id = $1`,
		int64(id), string(a),
	)
	if err != nil {
		return fmt.Errorf("set availability for %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUnknownUser
	}
	return nil
}

// AcceptedFriendIDs returns the accepted-friendship set for a user,
// in either direction of the friendship row.
func (s *Store) AcceptedFriendIDs(ctx context.Context, id domain.UserID) ([]domain.UserID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT CASE WHEN user_id = $1 THEN friend_id ELSE user_id END
		FROM friendships
		WHERE (user_id = $1 OR friend_id = $1) AND status = 'accepted'
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("friends of %d: %w", id, err)
	}
	defer rows.Close()

	var out []domain.UserID
	for rows.Next() {
		var fid int64
		if err := rows.Scan(&fid); err != nil {
			return nil, err
		}
		out = append(out, domain.UserID(fid))
	}
	return out, rows.Err()
}
