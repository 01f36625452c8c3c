package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/avoronov/callbridge/internal/domain"
	"github.com/avoronov/callbridge/internal/store"
)

var ErrDirectNeedsPeer = errors.New("direct room takes exactly one invitee")

// Membership is the authoritative state machine for how a user's
// status in a room evolves. All transitions funnel through here so
// idempotence and ordering rules live in one place instead of being
// re-derived per message handler.
type Membership struct {
	store MemberStore
}

func NewMembership(s MemberStore) *Membership {
	return &Membership{store: s}
}

// CreateRoom creates a room with the owner accepted immediately and
// each invitee pending. Direct rooms imply mutual consent by
// construction, so the invitee is accepted immediately too — and a
// direct room between two users is unique: an existing one is reused
// with departed members silently restored, never duplicated.
func (m *Membership) CreateRoom(ctx context.Context, ownerID domain.UserID, kind domain.RoomKind, invitees []domain.UserID) (*domain.Room, error) {
	if kind == domain.RoomDirect {
		if len(invitees) != 1 {
			return nil, ErrDirectNeedsPeer
		}
		return m.getOrCreateDirect(ctx, ownerID, invitees[0])
	}

	room, err := m.store.CreateRoom(ctx, kind, ownerID, invitees, domain.MemberPending)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.membership").
		Str("room", string(room.ID)).Str("kind", string(kind)).
		Int64("owner", int64(ownerID)).Int("invitees", len(invitees)).Msg("room created")
	return room, nil
}

func (m *Membership) getOrCreateDirect(ctx context.Context, ownerID, peerID domain.UserID) (*domain.Room, error) {
	room, err := m.store.FindDirectRoom(ctx, ownerID, peerID)
	if err != nil {
		return nil, err
	}
	if room != nil {
		// Restoration is not a join: joined_at is preserved (or stays
		// NULL until the member actually connects to media).
		for _, uid := range []domain.UserID{ownerID, peerID} {
			if err := m.store.RestoreAccepted(ctx, room.ID, uid); err != nil {
				return nil, err
			}
		}
		log.Info().Str("module", "app.membership").Str("room", string(room.ID)).Msg("direct room reused")
		return room, nil
	}
	return m.store.CreateRoom(ctx, domain.RoomDirect, ownerID, []domain.UserID{peerID}, domain.MemberAccepted)
}

// Join admits a user holding a pending or accepted record. It sets
// accepted, refreshes joinedAt and clears leftAt. A user with no
// record — or one who hard-left — needs an invite first.
func (m *Membership) Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.RoomMember, error) {
	rec, err := m.store.GetMember(ctx, roomID, userID)
	if errors.Is(err, store.ErrNoMember) {
		return nil, domain.ErrNotInvited
	}
	if err != nil {
		return nil, err
	}
	if rec.Status == domain.MemberLeft {
		return nil, domain.ErrNotInvited
	}
	if err := m.store.MarkAccepted(ctx, roomID, userID); err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.membership").
		Str("room", string(roomID)).Int64("user", int64(userID)).Msg("joined")
	return m.store.GetMember(ctx, roomID, userID)
}

// Leave applies a tagged leave request. Soft leaves on direct and
// voice rooms keep the record untouched (chat history and the call
// slot survive); everything else records departure.
func (m *Membership) Leave(ctx context.Context, roomID domain.RoomID, userID domain.UserID, mode domain.LeaveMode) error {
	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !domain.HardLeaveFor(mode, room.Kind) {
		log.Info().Str("module", "app.membership").
			Str("room", string(roomID)).Int64("user", int64(userID)).Msg("soft leave, record kept")
		return nil
	}
	if err := m.store.MarkLeft(ctx, roomID, userID); err != nil {
		return err
	}
	log.Info().Str("module", "app.membership").
		Str("room", string(roomID)).Int64("user", int64(userID)).Msg("left")
	return nil
}

// CallInvite makes sure the callee holds at least a pending record:
// absent records are created, left records restored to pending.
func (m *Membership) CallInvite(ctx context.Context, roomID domain.RoomID, calleeID domain.UserID) error {
	return m.store.UpsertPending(ctx, roomID, calleeID)
}

// CallAccept transitions the callee to accepted. Idempotent: accepting
// an already-accepted membership refreshes joinedAt and nothing else.
func (m *Membership) CallAccept(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	err := m.store.MarkAccepted(ctx, roomID, userID)
	if errors.Is(err, store.ErrNoMember) {
		return domain.ErrNotInvited
	}
	return err
}

// RoomState is the authoritative membership snapshot, sent to clients
// who must not rely on the ordering of member-joined broadcasts.
func (m *Membership) RoomState(ctx context.Context, roomID domain.RoomID) ([]domain.RoomMember, error) {
	return m.store.RoomMembers(ctx, roomID)
}

// AcceptedMemberIDs filters the room down to accepted members, the
// audience of room-scoped broadcasts.
func (m *Membership) AcceptedMemberIDs(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error) {
	members, err := m.store.RoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserID, 0, len(members))
	for _, rec := range members {
		if rec.Status == domain.MemberAccepted {
			out = append(out, rec.UserID)
		}
	}
	return out, nil
}
