package domain

import "time"

// ActiveCall is an ephemeral pairing of two users engaged in a call.
// It lives only in process memory; persisted room membership and the
// call pairing are reconciled by relayed events, never by a shared
// transaction. While a call is active an entry exists in both
// directions: one keyed by each participant, each naming the other.
type ActiveCall struct {
	OwnerID   UserID    `json:"owner_id"`
	PeerID    UserID    `json:"peer_id"`
	RoomID    RoomID    `json:"room_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// PresenceEntry tracks a user's live control connection. One live
// connection per user; a new connection supersedes the previous one.
type PresenceEntry struct {
	UserID       UserID       `json:"user_id"`
	Availability Availability `json:"availability"`
	ConnID       ConnID       `json:"conn_id"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
