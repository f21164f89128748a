package botguard

import (
	"testing"
	"time"
)

func TestClassifyBenignScoresZero(t *testing.T) {
	detector := NewDetector(NewSignatureCatalog(), 10*time.Second)
	event := ObservedEvent{
		Address:   "203.0.113.10",
		ClientID:  "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
		Endpoint:  "/home",
		Method:    "GET",
		Timestamp: time.Now(),
	}
	detection := detector.Classify(event, nil)
	if detection.Score != 0 {
		t.Fatalf("expected zero score for benign event, got %d (%v)", detection.Score, detection.Tags)
	}
	if detection.Tier != TierMinimal {
		t.Fatalf("expected MINIMAL tier, got %s", detection.Tier)
	}
}

func TestClassifyScannerOnTrapEndpoint(t *testing.T) {
	detector := NewDetector(NewSignatureCatalog(), 10*time.Second)
	event := ObservedEvent{
		Address:   "198.51.100.77",
		ClientID:  "sqlmap/1.7.2#stable",
		Endpoint:  "/db/query/raw",
		Method:    "POST",
		Payload:   "id=1 UNION SELECT username,password FROM users",
		Timestamp: time.Now(),
	}
	detection := detector.Classify(event, nil)
	if detection.Tier != TierCritical {
		t.Fatalf("expected CRITICAL tier, got %s with score %d (%v)",
			detection.Tier, detection.Score, detection.Tags)
	}
	wantTags := map[string]bool{
		"scanner-tool":           false,
		"sql-injection":          false,
		"honeypot:/db/query/raw": false,
	}
	for _, tag := range detection.Tags {
		if _, ok := wantTags[tag]; ok {
			wantTags[tag] = true
		}
	}
	for tag, seen := range wantTags {
		if !seen {
			t.Fatalf("expected tag %q in %v", tag, detection.Tags)
		}
	}
}

func TestClassifyRapidRequests(t *testing.T) {
	detector := NewDetector(NewSignatureCatalog(), 10*time.Second)
	now := time.Now()
	recent := []time.Time{
		now.Add(-8 * time.Second),
		now.Add(-6 * time.Second),
		now.Add(-4 * time.Second),
		now.Add(-2 * time.Second),
		now,
	}
	event := ObservedEvent{
		Address:   "203.0.113.20",
		ClientID:  "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0",
		Endpoint:  "/search",
		Method:    "GET",
		Timestamp: now,
	}
	detection := detector.Classify(event, recent)
	if detection.Score != DefaultCatalogWeights().RapidRequest {
		t.Fatalf("expected rapid-request weight %d, got %d (%v)",
			DefaultCatalogWeights().RapidRequest, detection.Score, detection.Tags)
	}

	// One fewer event inside the window must not trigger.
	detection = detector.Classify(event, recent[1:])
	if detection.Score != 0 {
		t.Fatalf("expected no score with 4 events in window, got %d", detection.Score)
	}
}

func TestClassifyShortClientID(t *testing.T) {
	detector := NewDetector(NewSignatureCatalog(), 10*time.Second)
	event := ObservedEvent{
		Address:   "203.0.113.30",
		ClientID:  "curl",
		Endpoint:  "/",
		Method:    "GET",
		Timestamp: time.Now(),
	}
	detection := detector.Classify(event, nil)
	// "curl" hits both the automation rule and the short-identifier check.
	want := 25 + DefaultCatalogWeights().ShortClientID
	if detection.Score != want {
		t.Fatalf("expected score %d, got %d (%v)", want, detection.Score, detection.Tags)
	}
}

func TestTierForScoreBoundaries(t *testing.T) {
	cases := []struct {
		score int
		tier  ThreatTier
	}{
		{0, TierMinimal},
		{19, TierMinimal},
		{20, TierLow},
		{39, TierLow},
		{40, TierMedium},
		{59, TierMedium},
		{60, TierHigh},
		{79, TierHigh},
		{80, TierCritical},
		{130, TierCritical},
	}
	for _, c := range cases {
		if got := TierForScore(c.score); got != c.tier {
			t.Fatalf("score %d: expected %s, got %s", c.score, c.tier, got)
		}
	}
}

func TestFingerprintStable(t *testing.T) {
	a := FingerprintOf("203.0.113.10", "curl")
	b := FingerprintOf("203.0.113.10", "curl")
	if a != b {
		t.Fatalf("fingerprint not stable: %s vs %s", a, b)
	}
	if c := FingerprintOf("203.0.113.11", "curl"); c == a {
		t.Fatalf("distinct addresses produced identical fingerprint %s", a)
	}
	if len(a) != 16 {
		t.Fatalf("expected 16 hex chars, got %d (%s)", len(a), a)
	}
}
