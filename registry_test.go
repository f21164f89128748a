package botguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func testDetection(fp Fingerprint, score int, ts time.Time) Detection {
	return Detection{
		Fingerprint: fp,
		Address:     "198.51.100.1",
		ClientID:    "nikto/2.5",
		Endpoint:    "/.env",
		Score:       score,
		Tier:        TierForScore(score),
		Timestamp:   ts,
	}
}

func newTestRegistry(t *testing.T) *ActorRegistry {
	t.Helper()
	registry, err := NewActorRegistry(context.Background(), NewMemoryActorStore())
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}
	return registry
}

func TestUpsertAccumulates(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()
	fp := Fingerprint("aabbccdd00112233")
	start := time.Now()

	for i := 0; i < 5; i++ {
		score := 30 + i*10
		record, err := registry.Upsert(ctx, testDetection(fp, score, start.Add(time.Duration(i)*time.Second)))
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		if record.AttackCount != int64(i+1) {
			t.Fatalf("upsert %d: expected attack count %d, got %d", i, i+1, record.AttackCount)
		}
		if record.Score != score {
			t.Fatalf("upsert %d: expected latest score %d, got %d", i, score, record.Score)
		}
	}

	record := registry.Get(fp)
	if !record.FirstSeen.Equal(start) {
		t.Fatalf("first_seen moved: %s vs %s", record.FirstSeen, start)
	}
	if record.Tier != TierHigh {
		t.Fatalf("expected HIGH for score 70, got %s", record.Tier)
	}
}

func TestUpsertScoreCanDrop(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()
	fp := Fingerprint("0011223344556677")
	now := time.Now()

	if _, err := registry.Upsert(ctx, testDetection(fp, 90, now)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	record, err := registry.Upsert(ctx, testDetection(fp, 25, now.Add(time.Second)))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if record.Score != 25 || record.Tier != TierLow {
		t.Fatalf("expected latest score to replace, got score %d tier %s", record.Score, record.Tier)
	}
}

func TestConcurrentUpsertsSameFingerprint(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()
	fp := Fingerprint("ffeeddccbbaa9988")

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := registry.Upsert(ctx, testDetection(fp, 50, time.Now())); err != nil {
				t.Errorf("upsert: %v", err)
			}
		}(i)
	}
	wg.Wait()

	record := registry.Get(fp)
	if record.AttackCount != n {
		t.Fatalf("expected attack count %d, got %d", n, record.AttackCount)
	}
}

func TestMarkNeutralized(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()
	fp := Fingerprint("1234567890abcdef")

	if _, err := registry.Upsert(ctx, testDetection(fp, 85, time.Now())); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := registry.MarkNeutralized(ctx, fp); err != nil {
		t.Fatalf("mark neutralized: %v", err)
	}
	if !registry.Get(fp).Neutralized {
		t.Fatalf("expected neutralized flag set")
	}
	if err := registry.MarkNeutralized(ctx, "deadbeefdeadbeef"); err == nil {
		t.Fatalf("expected error for unknown actor")
	}
}

func TestRecordAttemptAndSnapshot(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()
	fp := Fingerprint("5555666677778888")

	if _, err := registry.Upsert(ctx, testDetection(fp, 65, time.Now())); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for i := 0; i < 3; i++ {
		err := registry.RecordAttempt(ctx, &ResponseAttempt{
			ID:          fmt.Sprintf("attempt-%d", i),
			Fingerprint: fp,
			Channel:     "audit-file",
			Timestamp:   time.Now(),
			Success:     i%2 == 0,
		})
		if err != nil {
			t.Fatalf("record attempt %d: %v", i, err)
		}
	}

	snapshot := registry.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 actor in snapshot, got %d", len(snapshot))
	}
	if len(snapshot[0].Attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(snapshot[0].Attempts))
	}
}

// failingStore errors on every durable write but still reads.
type failingStore struct {
	*MemoryActorStore
}

func (s *failingStore) SaveActor(ctx context.Context, record *ActorRecord) error {
	return fmt.Errorf("disk full")
}

func TestUpsertPersistenceFailure(t *testing.T) {
	registry, err := NewActorRegistry(context.Background(), &failingStore{NewMemoryActorStore()})
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}
	fp := Fingerprint("9999aaaabbbbcccc")

	record, err := registry.Upsert(context.Background(), testDetection(fp, 70, time.Now()))
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("expected ErrPersistenceFailure, got %v", err)
	}
	if record == nil || record.Score != 70 {
		t.Fatalf("expected best-effort record despite failure, got %+v", record)
	}
	if got := registry.Get(fp); got == nil || got.Score != 70 {
		t.Fatalf("expected in-memory view updated, got %+v", got)
	}
}

func TestRegistryReloadsFromStore(t *testing.T) {
	store := NewMemoryActorStore()
	ctx := context.Background()

	first, err := NewActorRegistry(ctx, store)
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}
	fp := Fingerprint("abcd1234abcd1234")
	if _, err := first.Upsert(ctx, testDetection(fp, 45, time.Now())); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	second, err := NewActorRegistry(ctx, store)
	if err != nil {
		t.Fatalf("reload registry: %v", err)
	}
	record := second.Get(fp)
	if record == nil || record.Score != 45 {
		t.Fatalf("expected persisted actor after reload, got %+v", record)
	}
}
