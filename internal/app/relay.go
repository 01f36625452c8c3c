package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/avoronov/callbridge/internal/core"
	"github.com/avoronov/callbridge/internal/domain"
)

// Relay routes point-to-point control messages between exactly the
// users involved. It performs no validation of call state: it is a
// dumb forwarder that only requires the recipient's connection to
// exist. A missing recipient means the message is silently dropped —
// senders confirm state via CheckActive or polling, never by assuming
// delivery.
type Relay struct {
	presence   *PresenceRegistry
	membership *Membership
}

func NewRelay(presence *PresenceRegistry, membership *Membership) *Relay {
	return &Relay{presence: presence, membership: membership}
}

// SendTo forwards one message to a single user. The returned
// ErrDeliveryMiss is informational; it must not be surfaced to the
// sender as a failure.
func (r *Relay) SendTo(to domain.UserID, out core.Outbound) error {
	frame, err := core.EncodeOutbound(out)
	if err != nil {
		return err
	}
	conn, ok := r.presence.Conn(to)
	if !ok {
		log.Debug().Str("module", "app.relay").
			Int64("to", int64(to)).Str("type", out.Type).Msg("recipient not connected, dropped")
		return domain.ErrDeliveryMiss
	}
	if err := conn.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "app.relay").
			Int64("to", int64(to)).Str("type", out.Type).Msg("send failed, dropped")
		return domain.ErrDeliveryMiss
	}
	return nil
}

// BroadcastRoom fans a room-scoped message out to every accepted
// member currently connected, except the originator. Fan-out is
// best-effort per recipient; one slow consumer never blocks the rest
// because each connection buffers its own FIFO queue.
func (r *Relay) BroadcastRoom(ctx context.Context, roomID domain.RoomID, except domain.UserID, out core.Outbound) {
	ids, err := r.membership.AcceptedMemberIDs(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").
			Str("room", string(roomID)).Msg("load room audience failed")
		return
	}
	sent := 0
	for _, id := range ids {
		if id == except {
			continue
		}
		if r.SendTo(id, out) == nil {
			sent++
		}
	}
	log.Debug().Str("module", "app.relay").
		Str("room", string(roomID)).Str("type", out.Type).Int("sent_to", sent).Msg("room broadcast")
}
