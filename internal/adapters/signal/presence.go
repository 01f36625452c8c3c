package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avoronov/callbridge/internal/core"
	"github.com/avoronov/callbridge/internal/domain"
)

func (ctl *Controller) handleSetAvailability(ctx context.Context, from domain.UserID, c *wsSignalConn, env core.Envelope) {
	var p struct {
		Availability string `json:"availability"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}
	a, err := domain.ParseAvailability(p.Availability)
	if err != nil {
		ctl.sendError(c, "bad_availability")
		return
	}
	if a == domain.AvailabilityOffline {
		// Offline is the disconnect transition, not a settable status.
		ctl.sendError(c, "bad_availability")
		return
	}

	if err := ctl.Presence.SetAvailability(ctx, from, a); err != nil {
		log.Error().Err(err).Str("module", "signal").Int64("user", int64(from)).Msg("set availability")
		ctl.sendError(c, "store_error")
		return
	}
	ctl.sendJSON(c, core.Outbound{
		Type: core.TypePresence,
		Payload: core.MustPayload(struct {
			Availability domain.Availability `json:"availability"`
		}{Availability: a}),
	})
}

// handlePresenceQuery answers with the caller's online friends and
// their availability, straight from the registry.
func (ctl *Controller) handlePresenceQuery(ctx context.Context, from domain.UserID, c *wsSignalConn) {
	entries, err := ctl.Presence.FriendsOnline(ctx, from)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Int64("user", int64(from)).Msg("presence query")
		ctl.sendError(c, "store_error")
		return
	}
	ctl.sendJSON(c, core.Outbound{
		Type: core.TypePresence,
		Payload: core.MustPayload(struct {
			Friends []domain.PresenceEntry `json:"friends"`
			Count   int                    `json:"count"`
		}{Friends: entries, Count: len(entries)}),
	})
}

// handlePing refreshes the read deadline for clients that keep the
// application-level heartbeat going and answers with a pong frame.
func (ctl *Controller) handlePing(c *wsSignalConn) {
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * ctl.Cfg.PingPeriod))
	ctl.sendJSON(c, core.Outbound{Type: core.TypePong})
}
