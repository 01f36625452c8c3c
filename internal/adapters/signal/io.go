package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avoronov/callbridge/internal/core"
	"github.com/avoronov/callbridge/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, userID domain.UserID, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Int64("user", int64(userID)).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Int64("user", int64(userID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Int64("user", int64(userID)).Msg("readPump read error")
				return
			}
			ctl.dispatch(ctx, userID, c, data)
		}
	}
}

// dispatch routes one envelope to its handler. The sender identity is
// always the authenticated user; a client-supplied sender id in the
// payload is never trusted.
func (ctl *Controller) dispatch(ctx context.Context, from domain.UserID, c *wsSignalConn, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch env.Type {
	case core.TypeCallInvite:
		ctl.handleCallInvite(ctx, from, c, env)
	case core.TypeCallAccept:
		ctl.handleCallAccept(ctx, from, c, env)
	case core.TypeCallReject:
		ctl.handleCallReject(ctx, from, env)
	case core.TypeCallEnd:
		ctl.handleCallEnd(ctx, from, env)
	case core.TypeRestoreCall:
		ctl.handleRestoreCall(ctx, from, c, env)
	case core.TypeMediaOffer, core.TypeMediaAnswer, core.TypeICECandidate:
		ctl.handleForward(from, env)
	case core.TypeSpeakingOn, core.TypeSpeakingOff:
		ctl.handleSpeaking(ctx, from, env)
	case "create-room":
		ctl.handleCreateRoom(ctx, from, c, env)
	case "join":
		ctl.handleJoin(ctx, from, c, env)
	case "leave":
		ctl.handleLeave(ctx, from, c, env)
	case "set-availability":
		ctl.handleSetAvailability(ctx, from, c, env)
	case "presence-query":
		ctl.handlePresenceQuery(ctx, from, c)
	case "room-state":
		ctl.handleRoomState(ctx, from, c, env)
	case core.TypePing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) sendJSON(c *wsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsSignalConn, code string) {
	ctl.sendJSON(c, map[string]any{
		"type":  core.TypeError,
		"error": code,
	})
}

// writeError bypasses the send channel for connections whose writePump
// is not running.
func (ctl *Controller) writeError(ws WSConn, code string) {
	b, err := json.Marshal(map[string]any{
		"type":  core.TypeError,
		"error": code,
	})
	if err != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("write error frame")
	}
}
