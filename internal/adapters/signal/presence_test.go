package signal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avoronov/callbridge/internal/core"
	"github.com/avoronov/callbridge/internal/domain"
)

func TestSetAvailability(t *testing.T) {
	env := newTestEnv(t, 1)
	env.connect(t, 1)

	replies := env.dispatch(t, 1, core.Envelope{
		Type:    "set-availability",
		Payload: payload(t, map[string]string{"availability": "busy"}),
	})
	require.Len(t, replies, 1)
	assert.Equal(t, core.TypePresence, replies[0].Type)

	entry, ok := env.presence.Get(1)
	require.True(t, ok)
	assert.Equal(t, domain.AvailabilityBusy, entry.Availability)
}

func TestSetAvailabilityRejectsOffline(t *testing.T) {
	env := newTestEnv(t, 1)
	env.connect(t, 1)

	replies := env.dispatch(t, 1, core.Envelope{
		Type:    "set-availability",
		Payload: payload(t, map[string]string{"availability": "offline"}),
	})
	require.Len(t, replies, 1)
	assert.Equal(t, "bad_availability", replies[0].Error)
}

func TestPresenceQuery(t *testing.T) {
	env := newTestEnv(t, 1, 2, 3)
	env.users.friends[1] = []domain.UserID{2, 3}
	env.connect(t, 2)
	// Friend 3 stays offline.

	replies := env.dispatch(t, 1, core.Envelope{Type: "presence-query"})
	require.Len(t, replies, 1)
	assert.Equal(t, core.TypePresence, replies[0].Type)

	var p struct {
		Friends []domain.PresenceEntry `json:"friends"`
		Count   int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(replies[0].Payload, &p))
	require.Equal(t, 1, p.Count)
	assert.Equal(t, domain.UserID(2), p.Friends[0].UserID)
	assert.Equal(t, domain.AvailabilityOnline, p.Friends[0].Availability)
}

func TestPingPong(t *testing.T) {
	env := newTestEnv(t, 1)

	replies := env.dispatch(t, 1, core.Envelope{Type: core.TypePing})
	require.Len(t, replies, 1)
	assert.Equal(t, core.TypePong, replies[0].Type)
}
