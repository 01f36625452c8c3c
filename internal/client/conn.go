package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avoronov/callbridge/internal/core"
	"github.com/avoronov/callbridge/internal/domain"
)

// Control is the client side of the signaling connection. Reads are
// FIFO and feed the orchestrator; writes are serialized by a mutex.
type Control struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// Dial connects to the signaling endpoint with a bearer credential.
func Dial(ctx context.Context, url, token string) (*Control, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, domain.ErrUnauthenticated
		}
		return nil, err
	}
	return &Control{conn: conn}, nil
}

// Send delivers one envelope to the server.
func (c *Control) Send(env core.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteJSON(env)
}

// Run reads relayed messages until the connection drops or ctx is
// canceled, dispatching each to the orchestrator.
func (c *Control) Run(ctx context.Context, orch *Orchestrator) error {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "client.control").Msg("read loop closing")
			return err
		}
		var out core.Outbound
		if err := json.Unmarshal(data, &out); err != nil {
			log.Warn().Err(err).Str("module", "client.control").Msg("bad frame from server")
			continue
		}
		orch.HandleMessage(out)
	}
}

func (c *Control) Close() {
	_ = c.conn.Close()
}
