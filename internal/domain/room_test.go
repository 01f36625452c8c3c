package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoomKind(t *testing.T) {
	for _, s := range []string{"direct", "group", "voice"} {
		k, err := ParseRoomKind(s)
		require.NoError(t, err)
		assert.Equal(t, RoomKind(s), k)
	}

	_, err := ParseRoomKind("hallway")
	assert.ErrorIs(t, err, ErrBadRoomKind)
	_, err = ParseRoomKind("")
	assert.ErrorIs(t, err, ErrBadRoomKind)
}

func TestParseAvailability(t *testing.T) {
	for _, s := range []string{"online", "away", "busy", "offline"} {
		a, err := ParseAvailability(s)
		require.NoError(t, err)
		assert.Equal(t, Availability(s), a)
	}

	_, err := ParseAvailability("invisible")
	assert.ErrorIs(t, err, ErrBadAvailability)
}

func TestRoomMemberValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		member  RoomMember
		wantErr error
	}{
		{"accepted without left_at", RoomMember{Status: MemberAccepted}, nil},
		{"accepted with left_at", RoomMember{Status: MemberAccepted, LeftAt: &now}, ErrMemberStateCorrupt},
		{"left with left_at", RoomMember{Status: MemberLeft, LeftAt: &now}, nil},
		{"left without left_at", RoomMember{Status: MemberLeft}, ErrMemberStateCorrupt},
		{"pending is unconstrained", RoomMember{Status: MemberPending}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.member.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHardLeaveFor(t *testing.T) {
	tests := []struct {
		mode LeaveMode
		kind RoomKind
		want bool
	}{
		{LeaveSoft, RoomDirect, false},
		{LeaveSoft, RoomVoice, false},
		{LeaveSoft, RoomGroup, true},
		{LeaveHard, RoomDirect, true},
		{LeaveHard, RoomVoice, true},
		{LeaveHard, RoomGroup, true},
	}
	for _, tt := range tests {
		got := HardLeaveFor(tt.mode, tt.kind)
		assert.Equal(t, tt.want, got, "mode=%v kind=%s", tt.mode, tt.kind)
	}
}
