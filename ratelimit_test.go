package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitBurstThenDeny(t *testing.T) {
	old := settings
	settings.RateLimitRPS = 1
	settings.RateLimitBurst = 3
	defer func() {
		settings = old
		limiterMu.Lock()
		delete(limiters, "203.0.113.7")
		limiterMu.Unlock()
	}()

	addr := "203.0.113.7:51234"
	for i := 0; i < 3; i++ {
		assert.True(t, rateLimitAllow(addr), "request %d within burst", i)
	}
	assert.False(t, rateLimitAllow(addr), "request past burst should be denied")
}

func TestRateLimitPerClient(t *testing.T) {
	old := settings
	settings.RateLimitRPS = 1
	settings.RateLimitBurst = 1
	defer func() {
		settings = old
		limiterMu.Lock()
		delete(limiters, "198.51.100.1")
		delete(limiters, "198.51.100.2")
		limiterMu.Unlock()
	}()

	assert.True(t, rateLimitAllow("198.51.100.1:1000"))
	assert.False(t, rateLimitAllow("198.51.100.1:1001"))
	// Different client gets its own bucket
	assert.True(t, rateLimitAllow("198.51.100.2:1000"))
}
