package botguard

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ThreatTier classifies an actor by its latest detection score.
type ThreatTier int

const (
	TierMinimal ThreatTier = iota
	TierLow
	TierMedium
	TierHigh
	TierCritical
)

// Tier thresholds, inclusive lower bounds.
const (
	tierLowFloor      = 20
	tierMediumFloor   = 40
	tierHighFloor     = 60
	tierCriticalFloor = 80
)

func TierForScore(score int) ThreatTier {
	switch {
	case score >= tierCriticalFloor:
		return TierCritical
	case score >= tierHighFloor:
		return TierHigh
	case score >= tierMediumFloor:
		return TierMedium
	case score >= tierLowFloor:
		return TierLow
	default:
		return TierMinimal
	}
}

func (t ThreatTier) String() string {
	switch t {
	case TierCritical:
		return "CRITICAL"
	case TierHigh:
		return "HIGH"
	case TierMedium:
		return "MEDIUM"
	case TierLow:
		return "LOW"
	default:
		return "MINIMAL"
	}
}

// Fingerprint is a fixed-width derived key identifying an actor across
// events without carrying the raw address/identifier strings around.
type Fingerprint string

// FingerprintOf derives the stable actor key from the observed address and
// client identifier.
func FingerprintOf(address, clientID string) Fingerprint {
	sum := blake2b.Sum256([]byte(address + "|" + clientID))
	return Fingerprint(hex.EncodeToString(sum[:8]))
}

// ObservedEvent is a single normalized observation produced by an external
// collector. The engine never mutates it.
type ObservedEvent struct {
	Address   string    `json:"address"`
	ClientID  string    `json:"clientId,omitempty"`
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Payload   string    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Detection is the ephemeral scoring result for one event.
type Detection struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Address     string      `json:"address"`
	ClientID    string      `json:"clientId,omitempty"`
	Endpoint    string      `json:"endpoint"`
	Score       int         `json:"score"`
	Tags        []string    `json:"tags,omitempty"`
	Tier        ThreatTier  `json:"tier"`
	Timestamp   time.Time   `json:"timestamp"`
}

// ActorRecord is the durable per-fingerprint state tracked by the registry.
type ActorRecord struct {
	Fingerprint Fingerprint `json:"fingerprint" db:"fingerprint"`
	Address     string      `json:"address" db:"address"`
	ClientID    string      `json:"clientId" db:"client_id"`
	FirstSeen   time.Time   `json:"firstSeen" db:"first_seen"`
	LastSeen    time.Time   `json:"lastSeen" db:"last_seen"`
	AttackCount int64       `json:"attackCount" db:"attack_count"`
	Score       int         `json:"score" db:"score"`
	Tier        ThreatTier  `json:"tier" db:"tier"`
	Neutralized bool        `json:"neutralized" db:"neutralized"`
}

// Clone returns a deep copy safe to hand out of the registry.
func (r *ActorRecord) Clone() *ActorRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// Outcome reports the result of a single channel invocation. Channels report
// failure through it; they never return errors to the dispatcher.
type Outcome struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// ResponseAttempt is one append-only audit entry per channel invocation.
type ResponseAttempt struct {
	ID          string      `json:"id" db:"id"`
	Fingerprint Fingerprint `json:"fingerprint" db:"fingerprint"`
	Channel     string      `json:"channel" db:"channel"`
	Timestamp   time.Time   `json:"timestamp" db:"timestamp"`
	Success     bool        `json:"success" db:"success"`
	Reason      string      `json:"reason" db:"reason"`
}

// Directive is the escalation decision for one upserted record.
type Directive struct {
	Warn    bool `json:"warn"`
	Respond bool `json:"respond"`
}

// EvidenceActor pairs a record with its full response history for export.
type EvidenceActor struct {
	Record   *ActorRecord       `json:"record"`
	Attempts []*ResponseAttempt `json:"attempts,omitempty"`
}

// EvidencePackage is a self-describing, consistent snapshot of every actor
// and every response attempt.
type EvidencePackage struct {
	GeneratedAt  time.Time        `json:"generatedAt"`
	ActorCount   int              `json:"actorCount"`
	AttemptCount int              `json:"attemptCount"`
	Neutralized  int              `json:"neutralized"`
	Actors       []*EvidenceActor `json:"actors"`
}
