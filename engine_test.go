package botguard

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oarkflow/log"
)

func newTestEngine(t *testing.T, cfg EngineConfig) (*Engine, *ActorRegistry, *stubActionChannel) {
	t.Helper()
	registry := newTestRegistry(t)
	logger := log.Logger{Level: log.ErrorLevel}
	metrics := NewInMemoryMetricsCollector()
	history := NewRecentHistory(10*time.Second, 10)
	detector := NewDetector(NewSignatureCatalog(), history.Window())

	dispatcher := NewResponseDispatcher(registry, NewNoticeBuilder("test", ""), &logger, metrics)
	dispatcher.AddWarnChannel(&stubWarnChannel{outcome: Outcome{Success: true}})
	action := &stubActionChannel{available: true, outcome: Outcome{Success: true}}
	dispatcher.SetActionChannel(TierHigh, action)

	engine := NewEngine(cfg, detector, registry, DefaultEscalationPolicy(), dispatcher,
		history, NewEvidenceExporter(registry), &logger, metrics)
	return engine, registry, action
}

func hostileEvent(address string) ObservedEvent {
	return ObservedEvent{
		Address:   address,
		ClientID:  "sqlmap/1.7.2#stable",
		Endpoint:  "/db/query/raw",
		Method:    "POST",
		Payload:   "id=1 UNION SELECT 1,2,3",
		Timestamp: time.Now(),
	}
}

func TestEngineProcessesQueuedEvents(t *testing.T) {
	evidence := filepath.Join(t.TempDir(), "evidence.json")
	engine, registry, action := newTestEngine(t, EngineConfig{
		PollInterval: 20 * time.Millisecond,
		EvidencePath: evidence,
	})

	if !engine.Offer(hostileEvent("198.51.100.90")) {
		t.Fatalf("offer rejected")
	}
	engine.Offer(ObservedEvent{
		Address:   "203.0.113.5",
		ClientID:  "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
		Endpoint:  "/home",
		Method:    "GET",
		Timestamp: time.Now(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		fp := FingerprintOf("198.51.100.90", "sqlmap/1.7.2#stable")
		if record := registry.Get(fp); record != nil && record.Neutralized {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("hostile actor never neutralized")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if action.calls == 0 {
		t.Fatalf("expected action channel invoked")
	}

	// The benign event must not create an actor.
	benign := FingerprintOf("203.0.113.5", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0")
	if registry.Get(benign) != nil {
		t.Fatalf("benign event should not be tracked")
	}

	data, err := os.ReadFile(evidence)
	if err != nil {
		t.Fatalf("expected evidence package on shutdown: %v", err)
	}
	var pkg EvidencePackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		t.Fatalf("evidence package invalid: %v", err)
	}
	if pkg.ActorCount != 1 || pkg.Neutralized != 1 {
		t.Fatalf("unexpected evidence counts: %+v", pkg)
	}
}

func TestEngineShutdownDrainsQueue(t *testing.T) {
	evidence := filepath.Join(t.TempDir(), "evidence.json")
	engine, registry, _ := newTestEngine(t, EngineConfig{
		PollInterval: time.Hour, // never ticks; only the shutdown drain runs
		EvidencePath: evidence,
	})
	engine.Offer(hostileEvent("198.51.100.91"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	fp := FingerprintOf("198.51.100.91", "sqlmap/1.7.2#stable")
	if registry.Get(fp) == nil {
		t.Fatalf("queued event lost on shutdown")
	}
	if _, err := os.Stat(evidence); err != nil {
		t.Fatalf("expected final evidence export: %v", err)
	}
}

func TestEngineQueueFullDrops(t *testing.T) {
	engine, _, _ := newTestEngine(t, EngineConfig{
		PollInterval: time.Hour,
		QueueSize:    2,
	})
	if !engine.Offer(hostileEvent("198.51.100.92")) {
		t.Fatalf("first offer should succeed")
	}
	if !engine.Offer(hostileEvent("198.51.100.93")) {
		t.Fatalf("second offer should succeed")
	}
	if engine.Offer(hostileEvent("198.51.100.94")) {
		t.Fatalf("offer beyond queue size must be dropped")
	}
}

func TestEngineDefensiveModeWarnsOnly(t *testing.T) {
	engine, registry, action := newTestEngine(t, EngineConfig{
		PollInterval: 20 * time.Millisecond,
		Mode:         ModeDefensive,
	})
	engine.Offer(hostileEvent("198.51.100.95"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	fp := FingerprintOf("198.51.100.95", "sqlmap/1.7.2#stable")
	deadline := time.After(2 * time.Second)
	for registry.Get(fp) == nil {
		select {
		case <-deadline:
			t.Fatalf("event never processed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if action.calls != 0 {
		t.Fatalf("defensive mode must not invoke actions, got %d", action.calls)
	}
	if registry.Get(fp).Neutralized {
		t.Fatalf("defensive mode must not neutralize")
	}
	attempts := registry.Attempts(fp)
	if len(attempts) == 0 {
		t.Fatalf("expected a warning attempt in defensive mode")
	}
}
