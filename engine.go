package botguard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oarkflow/log"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultQueueSize    = 4096
	persistRetries      = 3
)

// EngineConfig carries the tunables for one engine instance.
type EngineConfig struct {
	// PollInterval is how often queued events are drained and scored.
	PollInterval time.Duration
	// QueueSize bounds the pending-event queue; Offer drops beyond it.
	QueueSize int
	// EvidencePath receives the final evidence package on shutdown. Empty
	// disables the shutdown export.
	EvidencePath string
	// Mode is mirrored into the escalation policy.
	Mode EngineMode
}

// Engine ties the pipeline together: queued events are drained on a fixed
// cadence, scored, folded into the registry, and escalated. Events for
// distinct fingerprints are processed concurrently; events for the same
// fingerprint stay ordered.
type Engine struct {
	cfg        EngineConfig
	detector   *Detector
	registry   *ActorRegistry
	policy     EscalationPolicy
	dispatcher *ResponseDispatcher
	history    *RecentHistory
	exporter   *EvidenceExporter
	logger     *log.Logger
	metrics    MetricsCollector

	queue   chan ObservedEvent
	stopped chan struct{}
	once    sync.Once
}

// NewEngine assembles an engine. The policy's mode is overridden by the
// config's mode when set.
func NewEngine(cfg EngineConfig, detector *Detector, registry *ActorRegistry, policy EscalationPolicy, dispatcher *ResponseDispatcher, history *RecentHistory, exporter *EvidenceExporter, logger *log.Logger, metrics MetricsCollector) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Mode != "" {
		policy.Mode = cfg.Mode
	}
	return &Engine{
		cfg:        cfg,
		detector:   detector,
		registry:   registry,
		policy:     policy,
		dispatcher: dispatcher,
		history:    history,
		exporter:   exporter,
		logger:     logger,
		metrics:    metrics,
		queue:      make(chan ObservedEvent, cfg.QueueSize),
		stopped:    make(chan struct{}),
	}
}

// Offer queues one event for the next poll cycle. It never blocks; when the
// queue is full the event is dropped and counted.
func (e *Engine) Offer(event ObservedEvent) bool {
	select {
	case <-e.stopped:
		return false
	default:
	}
	select {
	case e.queue <- event:
		return true
	default:
		e.metrics.IncrementCounter("botguard_events_dropped", map[string]string{"reason": "queue_full"})
		return false
	}
}

// Run blocks until ctx is cancelled, draining and processing the queue every
// PollInterval. On shutdown it processes what is still queued and writes the
// final evidence package.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().
		Str("mode", string(e.policy.Mode)).
		Str("interval", e.cfg.PollInterval.String()).
		Str("session", e.dispatcher.SessionID()).
		Msg("engine started")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.once.Do(func() { close(e.stopped) })
			// Final cycle runs on a fresh context; the run context is
			// already cancelled.
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			e.cycle(drainCtx)
			e.export(drainCtx)
			cancel()
			e.logger.Info().Msg("engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

// cycle drains the queue and processes everything found, grouped by
// fingerprint so per-actor ordering holds while distinct actors proceed in
// parallel.
func (e *Engine) cycle(ctx context.Context) {
	events := e.drain()
	if len(events) > 0 {
		groups := make(map[Fingerprint][]ObservedEvent)
		order := make([]Fingerprint, 0, len(events))
		for _, event := range events {
			fp := FingerprintOf(event.Address, event.ClientID)
			if _, seen := groups[fp]; !seen {
				order = append(order, fp)
			}
			groups[fp] = append(groups[fp], event)
		}

		var wg sync.WaitGroup
		for _, fp := range order {
			wg.Add(1)
			go func(batch []ObservedEvent) {
				defer wg.Done()
				for _, event := range batch {
					e.process(ctx, event)
				}
			}(groups[fp])
		}
		wg.Wait()
	}

	now := time.Now()
	e.history.Cleanup(now)
	summary := e.registry.Summary(0)
	e.metrics.SetGauge("botguard_actors_tracked", float64(summary.Actors), nil)
	e.metrics.SetGauge("botguard_actors_neutralized", float64(summary.Neutralized), nil)
}

func (e *Engine) drain() []ObservedEvent {
	var events []ObservedEvent
	for {
		select {
		case event := <-e.queue:
			events = append(events, event)
		default:
			return events
		}
	}
}

func (e *Engine) process(ctx context.Context, event ObservedEvent) {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
		event.Timestamp = ts
	}
	fp := FingerprintOf(event.Address, event.ClientID)
	recent := e.history.Observe(fp, ts)

	detection := e.detector.Classify(event, recent)
	e.metrics.IncrementCounter("botguard_events_scored", map[string]string{"tier": detection.Tier.String()})
	if detection.Score == 0 {
		return
	}

	record, err := e.registry.Upsert(ctx, detection)
	if errors.Is(err, ErrPersistenceFailure) {
		for attempt := 1; attempt < persistRetries && err != nil; attempt++ {
			err = e.registry.Persist(ctx, detection.Fingerprint)
		}
		if err != nil {
			e.metrics.IncrementCounter("botguard_persistence_failures", nil)
			e.logger.Warn().
				Err(err).
				Str("fingerprint", string(detection.Fingerprint)).
				Msg("durable write failed, continuing with in-memory record")
		}
	} else if err != nil {
		e.logger.Error().Err(err).Str("fingerprint", string(detection.Fingerprint)).Msg("registry upsert failed")
		return
	}

	e.logger.Info().
		Str("fingerprint", string(record.Fingerprint)).
		Str("address", record.Address).
		Int("score", record.Score).
		Str("tier", record.Tier.String()).
		Int64("attacks", record.AttackCount).
		Msg("actor scored")

	directive := e.policy.Decide(record)
	if directive.Warn || directive.Respond {
		e.dispatcher.Dispatch(ctx, record, directive)
	}
}

func (e *Engine) export(ctx context.Context) {
	if e.cfg.EvidencePath == "" {
		return
	}
	pkg, err := e.exporter.Export(e.cfg.EvidencePath)
	if err != nil {
		e.logger.Error().Err(err).Str("path", e.cfg.EvidencePath).Msg("evidence export failed")
		return
	}
	e.logger.Info().
		Str("path", e.cfg.EvidencePath).
		Int("actors", pkg.ActorCount).
		Int("attempts", pkg.AttemptCount).
		Msg("evidence package written")
}
