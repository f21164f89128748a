package botguard

import (
	"context"
	"sync"
)

// MemoryActorStore implements ActorStore with in-memory storage. Useful for
// tests and for running the engine without a durable database.
type MemoryActorStore struct {
	mu       sync.RWMutex
	actors   map[Fingerprint]*ActorRecord
	attempts map[Fingerprint][]*ResponseAttempt
}

func NewMemoryActorStore() *MemoryActorStore {
	return &MemoryActorStore{
		actors:   make(map[Fingerprint]*ActorRecord),
		attempts: make(map[Fingerprint][]*ResponseAttempt),
	}
}

func (s *MemoryActorStore) SaveActor(ctx context.Context, record *ActorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actors[record.Fingerprint] = record.Clone()
	return nil
}

func (s *MemoryActorStore) GetActor(ctx context.Context, fp Fingerprint) (*ActorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, exists := s.actors[fp]
	if !exists {
		return nil, nil
	}
	return record.Clone(), nil
}

func (s *MemoryActorStore) ListActors(ctx context.Context) ([]*ActorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*ActorRecord, 0, len(s.actors))
	for _, record := range s.actors {
		records = append(records, record.Clone())
	}
	return records, nil
}

func (s *MemoryActorStore) AppendAttempt(ctx context.Context, attempt *ResponseAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *attempt
	s.attempts[attempt.Fingerprint] = append(s.attempts[attempt.Fingerprint], &cp)
	return nil
}

func (s *MemoryActorStore) ListAttempts(ctx context.Context, fp Fingerprint) ([]*ResponseAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.attempts[fp]
	attempts := make([]*ResponseAttempt, 0, len(stored))
	for _, attempt := range stored {
		cp := *attempt
		attempts = append(attempts, &cp)
	}
	return attempts, nil
}

func (s *MemoryActorStore) HealthCheck() error {
	return nil
}

func (s *MemoryActorStore) Close() error {
	return nil
}
