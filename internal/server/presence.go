package server

import "sync"

// PresenceTracker reference-counts open authenticated connections per user.
// A user may hold several simultaneous connections (devices, tabs); online
// and offline transitions fire only on 0<->1 crossings, so closing one of
// several connections never reports a false offline.
type PresenceTracker struct {
	mu     sync.Mutex
	counts map[int]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		counts: make(map[int]int),
	}
}

// Incr adds a connection for the user and reports whether the user just
// came online (count moved 0 -> 1).
func (p *PresenceTracker) Incr(userId int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts[userId]++
	return p.counts[userId] == 1
}

// Decr removes a connection for the user and reports whether the user just
// went offline (count moved 1 -> 0). Safe to call for a user with no entry;
// the count never goes below zero.
func (p *PresenceTracker) Decr(userId int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	count, ok := p.counts[userId]
	if !ok || count == 0 {
		return false
	}

	if count == 1 {
		delete(p.counts, userId)
		return true
	}

	p.counts[userId] = count - 1
	return false
}

// Online reports whether the user currently has at least one open
// authenticated connection.
func (p *PresenceTracker) Online(userId int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.counts[userId] > 0
}
