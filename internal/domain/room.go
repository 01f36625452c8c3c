package domain

import (
	"errors"
	"time"
)

type RoomID string

type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomGroup  RoomKind = "group"
	RoomVoice  RoomKind = "voice"
)

var ErrBadRoomKind = errors.New("unknown room kind")

func ParseRoomKind(s string) (RoomKind, error) {
	switch k := RoomKind(s); k {
	case RoomDirect, RoomGroup, RoomVoice:
		return k, nil
	}
	return "", ErrBadRoomKind
}

// Room kind is immutable after creation.
type Room struct {
	ID        RoomID    `json:"id"`
	Kind      RoomKind  `json:"kind"`
	OwnerID   UserID    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type MemberStatus string

const (
	MemberPending  MemberStatus = "pending"
	MemberAccepted MemberStatus = "accepted"
	MemberLeft     MemberStatus = "left"
)

// RoomMember is unique per (RoomID, UserID). A member may cycle
// accepted -> left -> accepted arbitrarily many times; JoinedAt is
// refreshed on every transition into accepted.
type RoomMember struct {
	RoomID   RoomID       `json:"room_id"`
	UserID   UserID       `json:"user_id"`
	Status   MemberStatus `json:"status"`
	JoinedAt *time.Time   `json:"joined_at,omitempty"`
	LeftAt   *time.Time   `json:"left_at,omitempty"`
}

var ErrMemberStateCorrupt = errors.New("member status contradicts left_at")

// Validate checks the status/LeftAt invariant: accepted implies no
// departure timestamp, left implies one.
func (m *RoomMember) Validate() error {
	switch m.Status {
	case MemberAccepted:
		if m.LeftAt != nil {
			return ErrMemberStateCorrupt
		}
	case MemberLeft:
		if m.LeftAt == nil {
			return ErrMemberStateCorrupt
		}
	}
	return nil
}

// LeaveMode is a tagged leave request. Whether a soft leave actually
// records departure depends on the room kind, resolved in one place by
// HardLeaveFor rather than by conditionals scattered over handlers.
type LeaveMode int

const (
	LeaveSoft LeaveMode = iota
	LeaveHard
)

// HardLeaveFor reports whether a leave request must record departure.
// Direct and voice rooms absorb soft leaves: the record keeps its
// history and call slot so the member can come back without re-invite.
func HardLeaveFor(mode LeaveMode, kind RoomKind) bool {
	if mode == LeaveHard {
		return true
	}
	switch kind {
	case RoomDirect, RoomVoice:
		return false
	default:
		return true
	}
}
