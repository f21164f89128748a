package botguard

import "testing"

func TestPolicyWarnFloor(t *testing.T) {
	policy := DefaultEscalationPolicy()

	d := policy.Decide(&ActorRecord{Score: 29, Tier: TierLow})
	if d.Warn || d.Respond {
		t.Fatalf("score 29 should trigger nothing, got %+v", d)
	}

	d = policy.Decide(&ActorRecord{Score: 30, Tier: TierLow})
	if !d.Warn || d.Respond {
		t.Fatalf("score 30 should warn only, got %+v", d)
	}
}

func TestPolicyRespondTier(t *testing.T) {
	policy := DefaultEscalationPolicy()

	d := policy.Decide(&ActorRecord{Score: 59, Tier: TierMedium})
	if d.Respond {
		t.Fatalf("MEDIUM must not respond, got %+v", d)
	}
	d = policy.Decide(&ActorRecord{Score: 60, Tier: TierHigh})
	if !d.Warn || !d.Respond {
		t.Fatalf("HIGH should warn and respond, got %+v", d)
	}
	d = policy.Decide(&ActorRecord{Score: 95, Tier: TierCritical})
	if !d.Respond {
		t.Fatalf("CRITICAL should respond, got %+v", d)
	}
}

func TestPolicyDefensiveModeNeverResponds(t *testing.T) {
	policy := DefaultEscalationPolicy()
	policy.Mode = ModeDefensive

	d := policy.Decide(&ActorRecord{Score: 95, Tier: TierCritical})
	if !d.Warn {
		t.Fatalf("defensive mode should still warn")
	}
	if d.Respond {
		t.Fatalf("defensive mode must not respond, got %+v", d)
	}
}

func TestPolicyRepeatResponses(t *testing.T) {
	policy := DefaultEscalationPolicy()
	neutralized := &ActorRecord{Score: 85, Tier: TierCritical, Neutralized: true}

	if d := policy.Decide(neutralized); !d.Respond {
		t.Fatalf("repeat responses on should act again, got %+v", d)
	}

	policy.RepeatResponses = false
	if d := policy.Decide(neutralized); d.Respond {
		t.Fatalf("repeat responses off must skip neutralized actor, got %+v", d)
	}
}

func TestPolicyNilRecord(t *testing.T) {
	policy := DefaultEscalationPolicy()
	if d := policy.Decide(nil); d.Warn || d.Respond {
		t.Fatalf("nil record should yield zero directive, got %+v", d)
	}
}
