package botguard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oarkflow/log"
)

const defaultChannelTimeout = 5 * time.Second

// ResponseDispatcher carries out a Directive: fans a warning out to every
// warn channel and invokes the action channel registered for the actor's
// tier. Every invocation, successful or not, lands in the audit trail.
type ResponseDispatcher struct {
	registry *ActorRegistry
	notices  *NoticeBuilder
	logger   *log.Logger
	metrics  MetricsCollector

	channelTimeout time.Duration
	sessionID      string

	warnChannels []WarnChannel
	actions      map[ThreatTier]ActionChannel

	mu     sync.Mutex
	warned map[Fingerprint]bool
}

// NewResponseDispatcher builds a dispatcher scoped to one engine session.
// Warnings are delivered at most once per fingerprint per session.
func NewResponseDispatcher(registry *ActorRegistry, notices *NoticeBuilder, logger *log.Logger, metrics MetricsCollector) *ResponseDispatcher {
	return &ResponseDispatcher{
		registry:       registry,
		notices:        notices,
		logger:         logger,
		metrics:        metrics,
		channelTimeout: defaultChannelTimeout,
		sessionID:      uuid.New().String(),
		actions:        make(map[ThreatTier]ActionChannel),
		warned:         make(map[Fingerprint]bool),
	}
}

// AddWarnChannel registers a warning transport. Order is delivery order.
func (d *ResponseDispatcher) AddWarnChannel(ch WarnChannel) {
	d.warnChannels = append(d.warnChannels, ch)
}

// SetActionChannel registers the counter-measure used for tier and above
// until a higher tier registers its own.
func (d *ResponseDispatcher) SetActionChannel(tier ThreatTier, ch ActionChannel) {
	d.actions[tier] = ch
}

// SessionID identifies this dispatcher's warn-once scope.
func (d *ResponseDispatcher) SessionID() string {
	return d.sessionID
}

// Dispatch applies directive to record. It never returns an error; channel
// failures become failed attempts and persistence failures are logged by the
// registry path.
func (d *ResponseDispatcher) Dispatch(ctx context.Context, record *ActorRecord, directive Directive) {
	if record == nil {
		return
	}
	if directive.Warn {
		d.warn(ctx, record)
	}
	if directive.Respond {
		d.respond(ctx, record)
	}
}

func (d *ResponseDispatcher) warn(ctx context.Context, record *ActorRecord) {
	d.mu.Lock()
	already := d.warned[record.Fingerprint]
	d.mu.Unlock()
	if already {
		return
	}

	delivered := false
	notice := d.notices.Build(record)
	for _, ch := range d.warnChannels {
		chCtx, cancel := context.WithTimeout(ctx, d.channelTimeout)
		outcome := ch.Notify(chCtx, record, notice)
		cancel()

		d.record(ctx, record.Fingerprint, ch.Name(), outcome)
		if outcome.Success {
			delivered = true
			d.metrics.IncrementCounter("botguard_warnings_delivered", map[string]string{"channel": ch.Name()})
			d.logger.Info().
				Str("fingerprint", string(record.Fingerprint)).
				Str("channel", ch.Name()).
				Msg("warning delivered")
		} else {
			d.metrics.IncrementCounter("botguard_warnings_failed", map[string]string{"channel": ch.Name()})
			d.logger.Warn().
				Str("fingerprint", string(record.Fingerprint)).
				Str("channel", ch.Name()).
				Str("reason", outcome.Reason).
				Msg("warning delivery failed")
		}
	}

	// Only a delivered warning arms the once-per-session guard; if every
	// channel failed, the next evaluation tries again.
	if delivered {
		d.mu.Lock()
		d.warned[record.Fingerprint] = true
		d.mu.Unlock()
	}
}

func (d *ResponseDispatcher) respond(ctx context.Context, record *ActorRecord) {
	ch := d.actionFor(record.Tier)
	if ch == nil {
		return
	}

	if !ch.Available() {
		// The configured tool is missing. Record the fact instead of
		// silently skipping so the audit trail shows the gap.
		d.record(ctx, record.Fingerprint, ch.Name(), Outcome{
			Success: false,
			Reason:  ErrChannelUnavailable.Error(),
		})
		d.metrics.IncrementCounter("botguard_actions_unavailable", map[string]string{"channel": ch.Name()})
		d.logger.Warn().
			Str("fingerprint", string(record.Fingerprint)).
			Str("channel", ch.Name()).
			Str("tier", record.Tier.String()).
			Msg("action channel unavailable, logged only")
		return
	}

	chCtx, cancel := context.WithTimeout(ctx, d.channelTimeout)
	outcome := ch.Act(chCtx, record)
	cancel()

	d.record(ctx, record.Fingerprint, ch.Name(), outcome)
	if outcome.Success {
		d.metrics.IncrementCounter("botguard_actions_executed", map[string]string{"channel": ch.Name()})
		if err := d.registry.MarkNeutralized(ctx, record.Fingerprint); err != nil {
			d.logger.Error().
				Err(err).
				Str("fingerprint", string(record.Fingerprint)).
				Msg("failed to mark actor neutralized")
		}
		d.logger.Info().
			Str("fingerprint", string(record.Fingerprint)).
			Str("channel", ch.Name()).
			Str("tier", record.Tier.String()).
			Msg("counter-measure executed")
	} else {
		d.metrics.IncrementCounter("botguard_actions_failed", map[string]string{"channel": ch.Name()})
		d.logger.Warn().
			Str("fingerprint", string(record.Fingerprint)).
			Str("channel", ch.Name()).
			Str("reason", outcome.Reason).
			Msg("counter-measure failed")
	}
}

// actionFor returns the channel registered at the highest tier not above t.
func (d *ResponseDispatcher) actionFor(t ThreatTier) ActionChannel {
	for tier := t; tier >= TierMinimal; tier-- {
		if ch, ok := d.actions[tier]; ok {
			return ch
		}
	}
	return nil
}

func (d *ResponseDispatcher) record(ctx context.Context, fp Fingerprint, channel string, outcome Outcome) {
	attempt := &ResponseAttempt{
		ID:          uuid.New().String(),
		Fingerprint: fp,
		Channel:     channel,
		Timestamp:   time.Now(),
		Success:     outcome.Success,
		Reason:      outcome.Reason,
	}
	if err := d.registry.RecordAttempt(ctx, attempt); err != nil {
		d.logger.Error().
			Err(err).
			Str("fingerprint", string(fp)).
			Str("channel", channel).
			Msg("failed to persist response attempt")
	}
}
