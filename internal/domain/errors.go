package domain

import "errors"

var (
	// ErrUnauthenticated means the control connection carried a bad or
	// missing credential. The connection is refused.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnknownUser means a presence update referenced a user with no
	// persisted record. The connection is closed, not retried.
	ErrUnknownUser = errors.New("unknown user")

	// ErrNotInvited means a join was attempted without a membership
	// record. The operation is rejected and surfaced to the caller.
	ErrNotInvited = errors.New("not invited to room")

	// ErrDeliveryMiss means a relay target had no live connection. The
	// message is dropped; senders must confirm state by polling, not by
	// assuming delivery.
	ErrDeliveryMiss = errors.New("recipient not connected")

	// ErrRenegotiationFailed means a media session could not reach
	// connected after the retry ceiling. Surfaced as a fatal
	// call-termination event.
	ErrRenegotiationFailed = errors.New("media renegotiation failed")
)
