package botguard

// EngineMode selects how far the engine is allowed to escalate.
type EngineMode string

const (
	// ModeAggressive enables both warnings and active counter-measures.
	ModeAggressive EngineMode = "aggressive"
	// ModeDefensive records and warns but never invokes action channels.
	ModeDefensive EngineMode = "defensive"
)

// EscalationPolicy maps an upserted record to a Directive. The policy is a
// pure decision table; the dispatcher applies idempotence on top of it.
type EscalationPolicy struct {
	// WarnScoreFloor is the minimum latest score that triggers a warning.
	WarnScoreFloor int
	// RespondTier is the minimum tier that triggers an action channel.
	RespondTier ThreatTier
	// RepeatResponses allows acting again on an actor already neutralized.
	// Off, a neutralized actor is only warned.
	RepeatResponses bool
	// Mode gates actions entirely when defensive.
	Mode EngineMode
}

// DefaultEscalationPolicy matches the shipped configuration: warn from score
// 30, respond from HIGH, repeat responses on, aggressive.
func DefaultEscalationPolicy() EscalationPolicy {
	return EscalationPolicy{
		WarnScoreFloor:  30,
		RespondTier:     TierHigh,
		RepeatResponses: true,
		Mode:            ModeAggressive,
	}
}

// Decide evaluates one record. A nil record yields the zero Directive.
func (p EscalationPolicy) Decide(record *ActorRecord) Directive {
	if record == nil {
		return Directive{}
	}
	var d Directive
	if record.Score >= p.WarnScoreFloor {
		d.Warn = true
	}
	if record.Tier >= p.RespondTier && p.Mode != ModeDefensive {
		if !record.Neutralized || p.RepeatResponses {
			d.Respond = true
		}
	}
	return d
}
