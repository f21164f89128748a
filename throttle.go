package botguard

import (
	"sync"
	"time"
)

// ResponseThrottle tracks restricted addresses and enforces a slow lane for
// them: one request per interval, everything else rejected. Restrictions
// expire on their own.
type ResponseThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	entries  map[string]*throttleEntry
}

type throttleEntry struct {
	until    time.Time
	lastPass time.Time
}

// NewResponseThrottle creates a throttle allowing one request per interval
// from a restricted address.
func NewResponseThrottle(interval time.Duration) *ResponseThrottle {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ResponseThrottle{
		interval: interval,
		entries:  make(map[string]*throttleEntry),
	}
}

// Restrict places address under restriction for d, extending any existing
// restriction.
func (t *ResponseThrottle) Restrict(address string, d time.Duration) {
	until := time.Now().Add(d)
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[address]
	if !ok {
		t.entries[address] = &throttleEntry{until: until}
		return
	}
	if until.After(entry.until) {
		entry.until = until
	}
}

// Restricted reports whether address is currently under restriction.
func (t *ResponseThrottle) Restricted(address string) bool {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[address]
	if !ok {
		return false
	}
	if now.After(entry.until) {
		delete(t.entries, address)
		return false
	}
	return true
}

// Allow reports whether a request from address may pass right now. Known
// unrestricted addresses always pass; restricted addresses pass at most once
// per interval.
func (t *ResponseThrottle) Allow(address string) bool {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[address]
	if !ok {
		return true
	}
	if now.After(entry.until) {
		delete(t.entries, address)
		return true
	}
	if now.Sub(entry.lastPass) >= t.interval {
		entry.lastPass = now
		return true
	}
	return false
}

// Cleanup drops expired restrictions.
func (t *ResponseThrottle) Cleanup(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for address, entry := range t.entries {
		if now.After(entry.until) {
			delete(t.entries, address)
		}
	}
}
