package client

import "github.com/avoronov/callbridge/internal/domain"

// EventKind enumerates what the orchestrator reports to its UI
// consumer. Events travel over one typed channel passed explicitly;
// there is no ambient publish/subscribe.
type EventKind string

const (
	EventIncomingCall     EventKind = "incoming-call"
	EventPeerConnected    EventKind = "peer-connected"
	EventPeerDisconnected EventKind = "peer-disconnected"
	EventRemoteTrack      EventKind = "remote-track"
	EventCallEnded        EventKind = "call-ended"
	EventCallRestored     EventKind = "call-restored"
	// EventCallFailed is fatal: renegotiation exhausted its retry
	// ceiling and the session is gone.
	EventCallFailed EventKind = "call-failed"
)

type Event struct {
	Kind EventKind
	Peer domain.UserID
	// Room is set on incoming-call: the consumer hands it back to
	// AcceptCall.
	Room domain.RoomID
	Err  error
}
