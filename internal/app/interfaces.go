package app

import (
	"context"

	"github.com/avoronov/callbridge/internal/domain"
)

// UserStore is the slice of the persisted store that presence needs.
type UserStore interface {
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
	SetAvailability(ctx context.Context, id domain.UserID, a domain.Availability) error
	AcceptedFriendIDs(ctx context.Context, id domain.UserID) ([]domain.UserID, error)
}

// MemberStore exposes record-level transitions over rooms and their
// members. Implemented by the postgres store; faked in tests.
type MemberStore interface {
	CreateRoom(ctx context.Context, kind domain.RoomKind, ownerID domain.UserID, invitees []domain.UserID, inviteeStatus domain.MemberStatus) (*domain.Room, error)
	FindDirectRoom(ctx context.Context, a, b domain.UserID) (*domain.Room, error)
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	GetMember(ctx context.Context, roomID domain.RoomID, userID domain.UserID) (*domain.RoomMember, error)
	UpsertPending(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	RestoreAccepted(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	MarkAccepted(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	MarkLeft(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	RoomMembers(ctx context.Context, roomID domain.RoomID) ([]domain.RoomMember, error)
}
