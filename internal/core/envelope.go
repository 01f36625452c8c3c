package core

import (
	"encoding/json"

	"github.com/avoronov/callbridge/internal/domain"
)

// Signal message kinds relayed between control connections. The relay
// never interprets these beyond routing; their business meaning lives
// in the membership state machine and the client orchestrator.
const (
	TypeCallInvite   = "call-invite"
	TypeCallAccept   = "call-accept"
	TypeCallReject   = "call-reject"
	TypeCallEnd      = "call-end"
	TypeRestoreCall  = "restore-call"
	TypeCallRestored = "call-restored"
	TypeMediaOffer   = "media-offer"
	TypeMediaAnswer  = "media-answer"
	TypeICECandidate = "ice-candidate"
	TypeSpeakingOn   = "speaking-start"
	TypeSpeakingOff  = "speaking-stop"
	TypeMemberJoined = "member-joined"
	TypeMemberLeft   = "member-left"

	TypePresence  = "presence-status"
	TypeRoomState = "room-state"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeError     = "error"
)

// Envelope is the client-to-server wire shape. The sender is never
// taken from the payload; it is inferred from the authenticated
// connection.
type Envelope struct {
	Type    string          `json:"type"`
	To      domain.UserID   `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is the server-to-client wire shape. From is stamped by the
// server. Seq orders contradictory call events for the same pair: a
// consumer drops anything with a lower Seq than the last it applied.
type Outbound struct {
	Type    string          `json:"type"`
	From    domain.UserID   `json:"from,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeOutbound serializes a server-to-client message to a Frame.
func EncodeOutbound(out Outbound) (Frame, error) {
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}

// MustPayload marshals v for an Outbound payload. Payloads are plain
// structs assembled by handlers; a marshal failure is a programming
// error, not a runtime condition.
func MustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
