package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInviteRateLimiter(t *testing.T) {
	rl := NewInviteRateLimiter(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(1), "attempt %d inside the limit", i)
	}
	assert.False(t, rl.Allow(1))

	// Another user has an independent window.
	assert.True(t, rl.Allow(2))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow(1), "window slid past the old attempts")
}
