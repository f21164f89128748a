package botguard

import (
	"sync"
	"time"
)

// RecentHistory keeps a short per-fingerprint window of event timestamps so
// the detector can derive its timing heuristic without hitting persistent
// storage. Each fingerprint retains at most maxEntries timestamps.
type RecentHistory struct {
	mu         sync.Mutex
	window     time.Duration
	maxEntries int
	data       map[Fingerprint]*actorTimeline
}

type actorTimeline struct {
	stamps []time.Time
}

// NewRecentHistory creates a history with the provided sliding window and
// per-fingerprint retention size.
func NewRecentHistory(window time.Duration, maxEntries int) *RecentHistory {
	if window <= 0 {
		window = 10 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 10
	}
	return &RecentHistory{
		window:     window,
		maxEntries: maxEntries,
		data:       make(map[Fingerprint]*actorTimeline),
	}
}

// Observe records one event timestamp and returns a copy of the retained
// timestamps for the fingerprint, oldest first.
func (h *RecentHistory) Observe(fp Fingerprint, ts time.Time) []time.Time {
	if fp == "" {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	tl, ok := h.data[fp]
	if !ok {
		tl = &actorTimeline{}
		h.data[fp] = tl
	}
	tl.stamps = append(tl.stamps, ts)
	if len(tl.stamps) > h.maxEntries {
		tl.stamps = tl.stamps[len(tl.stamps)-h.maxEntries:]
	}

	out := make([]time.Time, len(tl.stamps))
	copy(out, tl.stamps)
	return out
}

// Cleanup drops fingerprints whose newest timestamp fell out of the window.
func (h *RecentHistory) Cleanup(now time.Time) {
	cutoff := now.Add(-h.window)
	h.mu.Lock()
	defer h.mu.Unlock()
	for fp, tl := range h.data {
		if len(tl.stamps) == 0 || tl.stamps[len(tl.stamps)-1].Before(cutoff) {
			delete(h.data, fp)
		}
	}
}

// Window returns the trailing duration the timing heuristic considers.
func (h *RecentHistory) Window() time.Duration {
	return h.window
}
