package botguard

import (
	"sort"
	"time"
)

// rapidRequestCount is the number of events inside the trailing window that
// trips the timing heuristic.
const rapidRequestCount = 5

// Detector turns one ObservedEvent into a Detection. Classification never
// fails; benign events simply score zero.
type Detector struct {
	catalog *SignatureCatalog
	window  time.Duration
}

// NewDetector wires the detector to a signature catalog. The window bounds
// the rapid-request heuristic.
func NewDetector(catalog *SignatureCatalog, window time.Duration) *Detector {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &Detector{catalog: catalog, window: window}
}

// Classify scores an event against the catalog plus the timing heuristics.
// recent is the bounded per-fingerprint history supplied by the caller; the
// detector itself mutates no state.
func (d *Detector) Classify(event ObservedEvent, recent []time.Time) Detection {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	score, matched := d.catalog.Match(event)
	weights := d.catalog.Weights()

	tags := make([]string, 0, len(matched)+3)
	seen := make(map[string]struct{}, len(matched)+3)
	addTag := func(tag string) {
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	for _, tag := range matched {
		addTag(tag)
	}

	if trap, ok := d.catalog.Trap(event.Endpoint); ok {
		score += weights.Trap
		addTag("honeypot:" + trap.Endpoint)
	}

	if len(event.ClientID) < weights.MinClientID {
		score += weights.ShortClientID
		addTag("short-client-id")
	}

	if countWithin(recent, ts, d.window) >= rapidRequestCount {
		score += weights.RapidRequest
		addTag("rapid-requests")
	}

	sort.Strings(tags)
	return Detection{
		Fingerprint: FingerprintOf(event.Address, event.ClientID),
		Address:     event.Address,
		ClientID:    event.ClientID,
		Endpoint:    event.Endpoint,
		Score:       score,
		Tags:        tags,
		Tier:        TierForScore(score),
		Timestamp:   ts,
	}
}

func countWithin(stamps []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for _, ts := range stamps {
		if !ts.Before(cutoff) && !ts.After(now) {
			n++
		}
	}
	return n
}
