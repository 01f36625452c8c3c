package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avoronov/callbridge/internal/app"
	"github.com/avoronov/callbridge/internal/config"
	"github.com/avoronov/callbridge/internal/core"
	"github.com/avoronov/callbridge/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller handles authenticated control connections: it admits them
// into the presence registry, dispatches typed signal messages and
// relays them point-to-point.
type Controller struct {
	Presence   *app.PresenceRegistry
	Calls      *app.CallRegistry
	Membership *app.Membership
	Relay      *app.Relay
	Invites    *app.InviteRateLimiter
	Cfg        *config.Config
}

func NewController(presence *app.PresenceRegistry, calls *app.CallRegistry, membership *app.Membership, relay *app.Relay, cfg *config.Config) *Controller {
	return &Controller{
		Presence:   presence,
		Calls:      calls,
		Membership: membership,
		Relay:      relay,
		Invites:    app.NewInviteRateLimiter(cfg.InviteLimit, cfg.InviteWindow),
		Cfg:        cfg,
	}
}

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// wsSignalConn is the server side of one control connection. Delivery
// to it is FIFO: everything funnels through the buffered send channel
// and a single writePump.
type wsSignalConn struct {
	conn WSConn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newSignalConn(conn WSConn) *wsSignalConn {
	return &wsSignalConn{
		conn: conn,
		send: make(chan core.Frame, 32),
	}
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades an authenticated request and runs the
// connection until it drops. The auth middleware has already rejected
// anything without a valid credential.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	userID := domain.UserID(c.GetInt64("user_id"))
	log.Info().Str("module", "signal").Int64("user", int64(userID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ctl.serve(ctx, userID, ws)
}

// serve admits the upgraded connection and runs its pumps until it
// drops.
func (ctl *Controller) serve(ctx context.Context, userID domain.UserID, ws WSConn) {
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := newSignalConn(ws)

	connID, err := ctl.Presence.Connect(ctx, userID, conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Int64("user", int64(userID)).Msg("connection rejected")
		// writePump never starts for a rejected connection, so the
		// error frame goes straight onto the socket.
		ctl.writeError(ws, "unknown_user")
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, userID, conn)
		ctl.Presence.Disconnect(context.Background(), userID, connID)
	}()
}
