package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceTracker_Incr(t *testing.T) {
	p := NewPresenceTracker()

	assert.True(t, p.Incr(1), "expected first connection to report an online transition")
	assert.False(t, p.Incr(1), "expected second connection for same user to not transition")
	assert.True(t, p.Online(1), "expected user to be online")

	assert.True(t, p.Incr(2), "expected first connection of another user to transition")
}

func TestPresenceTracker_Decr(t *testing.T) {
	p := NewPresenceTracker()

	p.Incr(1)
	p.Incr(1)

	assert.False(t, p.Decr(1), "expected no offline transition while a connection remains open")
	assert.True(t, p.Online(1), "expected user to remain online with one connection left")
	assert.True(t, p.Decr(1), "expected offline transition when last connection closes")
	assert.False(t, p.Online(1), "expected user to be offline")
}

func TestPresenceTracker_DecrWithoutEntry(t *testing.T) {
	p := NewPresenceTracker()

	assert.False(t, p.Decr(42), "expected decrement of unknown user to be a no-op")
	assert.False(t, p.Decr(42), "expected repeated decrement to never go below zero")
	assert.True(t, p.Incr(42), "expected transition on first increment after spurious decrements")
}

func TestPresenceTracker_Concurrent(t *testing.T) {
	p := NewPresenceTracker()

	const conns = 50
	var wg sync.WaitGroup
	for range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Incr(1)
		}()
	}
	wg.Wait()

	assert.True(t, p.Online(1), "expected user to be online after concurrent increments")

	var transitions int
	var mu sync.Mutex
	for range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.Decr(1) {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transitions, "expected exactly one offline transition")
	assert.False(t, p.Online(1), "expected user to be offline after all decrements")
}
