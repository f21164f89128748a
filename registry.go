package botguard

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ActorRegistry owns the authoritative in-memory actor table and mirrors
// every mutation into the ActorStore. Updates for the same fingerprint are
// serialized; updates for different fingerprints proceed in parallel.
type ActorRegistry struct {
	store ActorStore

	mu      sync.RWMutex
	actors  map[Fingerprint]*ActorRecord
	history map[Fingerprint][]*ResponseAttempt

	locksMu sync.Mutex
	locks   map[Fingerprint]*sync.Mutex
}

// NewActorRegistry creates a registry backed by store and preloads any
// previously persisted actors so restart keeps accumulated state.
func NewActorRegistry(ctx context.Context, store ActorStore) (*ActorRegistry, error) {
	r := &ActorRegistry{
		store:   store,
		actors:  make(map[Fingerprint]*ActorRecord),
		history: make(map[Fingerprint][]*ResponseAttempt),
	}
	records, err := store.ListActors(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	for _, record := range records {
		r.actors[record.Fingerprint] = record
		attempts, err := store.ListAttempts(ctx, record.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
		}
		r.history[record.Fingerprint] = attempts
	}
	r.locks = make(map[Fingerprint]*sync.Mutex)
	return r, nil
}

func (r *ActorRegistry) lockFor(fp Fingerprint) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[fp]
	if !ok {
		l = &sync.Mutex{}
		r.locks[fp] = l
	}
	return l
}

// Upsert folds one detection into the actor's record: first observation
// creates it, later observations bump attack_count, refresh last_seen, and
// replace score and tier from the latest detection. The updated record is
// returned even when persistence fails; in that case the error wraps
// ErrPersistenceFailure and the in-memory view is already current.
func (r *ActorRegistry) Upsert(ctx context.Context, det Detection) (*ActorRecord, error) {
	l := r.lockFor(det.Fingerprint)
	l.Lock()
	defer l.Unlock()

	r.mu.RLock()
	prev := r.actors[det.Fingerprint]
	r.mu.RUnlock()

	var next *ActorRecord
	if prev == nil {
		next = &ActorRecord{
			Fingerprint: det.Fingerprint,
			Address:     det.Address,
			ClientID:    det.ClientID,
			FirstSeen:   det.Timestamp,
			LastSeen:    det.Timestamp,
			AttackCount: 1,
			Score:       det.Score,
			Tier:        det.Tier,
		}
	} else {
		next = prev.Clone()
		next.Address = det.Address
		next.ClientID = det.ClientID
		next.LastSeen = det.Timestamp
		next.AttackCount++
		next.Score = det.Score
		next.Tier = det.Tier
	}

	r.mu.Lock()
	r.actors[det.Fingerprint] = next
	r.mu.Unlock()

	if err := r.store.SaveActor(ctx, next); err != nil {
		return next.Clone(), fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	return next.Clone(), nil
}

// Persist re-writes the current in-memory record for fp to the store. Used
// to retry a durable write after Upsert reported a persistence failure.
func (r *ActorRegistry) Persist(ctx context.Context, fp Fingerprint) error {
	l := r.lockFor(fp)
	l.Lock()
	defer l.Unlock()

	r.mu.RLock()
	record := r.actors[fp]
	r.mu.RUnlock()
	if record == nil {
		return fmt.Errorf("unknown actor: %s", fp)
	}
	if err := r.store.SaveActor(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	return nil
}

// Get returns a copy of the record for fp, or nil when unknown.
func (r *ActorRegistry) Get(fp Fingerprint) *ActorRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actors[fp].Clone()
}

// MarkNeutralized flips the neutralized flag after a successful action.
func (r *ActorRegistry) MarkNeutralized(ctx context.Context, fp Fingerprint) error {
	l := r.lockFor(fp)
	l.Lock()
	defer l.Unlock()

	r.mu.RLock()
	prev := r.actors[fp]
	r.mu.RUnlock()
	if prev == nil {
		return fmt.Errorf("unknown actor: %s", fp)
	}
	if prev.Neutralized {
		return nil
	}
	next := prev.Clone()
	next.Neutralized = true

	r.mu.Lock()
	r.actors[fp] = next
	r.mu.Unlock()

	if err := r.store.SaveActor(ctx, next); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	return nil
}

// RecordAttempt appends one channel invocation to the actor's audit trail.
// Failed attempts are recorded the same as successful ones.
func (r *ActorRegistry) RecordAttempt(ctx context.Context, attempt *ResponseAttempt) error {
	cp := *attempt
	r.mu.Lock()
	r.history[attempt.Fingerprint] = append(r.history[attempt.Fingerprint], &cp)
	r.mu.Unlock()

	if err := r.store.AppendAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	return nil
}

// Attempts returns copies of the audit trail for fp, oldest first.
func (r *ActorRegistry) Attempts(fp Fingerprint) []*ResponseAttempt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.history[fp]
	out := make([]*ResponseAttempt, 0, len(stored))
	for _, attempt := range stored {
		cp := *attempt
		out = append(out, &cp)
	}
	return out
}

// Snapshot returns a consistent copy of every actor and its attempts, ordered
// by first_seen. Concurrent upserts never produce a torn view because whole
// records are swapped, never mutated in place.
func (r *ActorRegistry) Snapshot() []*EvidenceActor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actors := make([]*EvidenceActor, 0, len(r.actors))
	for fp, record := range r.actors {
		stored := r.history[fp]
		attempts := make([]*ResponseAttempt, 0, len(stored))
		for _, attempt := range stored {
			cp := *attempt
			attempts = append(attempts, &cp)
		}
		actors = append(actors, &EvidenceActor{
			Record:   record.Clone(),
			Attempts: attempts,
		})
	}
	sort.Slice(actors, func(i, j int) bool {
		a, b := actors[i].Record, actors[j].Record
		if a.FirstSeen.Equal(b.FirstSeen) {
			return a.Fingerprint < b.Fingerprint
		}
		return a.FirstSeen.Before(b.FirstSeen)
	})
	return actors
}

// RegistrySummary is the aggregate view exposed on the ops endpoints.
type RegistrySummary struct {
	Actors      int                `json:"actors"`
	Neutralized int                `json:"neutralized"`
	Attempts    int                `json:"attempts"`
	ByTier      map[string]int     `json:"byTier"`
	TopActors   []*ActorRecord     `json:"topActors,omitempty"`
}

// Summary aggregates the registry for reporting.
func (r *ActorRegistry) Summary(topN int) RegistrySummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := RegistrySummary{ByTier: make(map[string]int)}
	top := make([]*ActorRecord, 0, len(r.actors))
	for fp, record := range r.actors {
		summary.Actors++
		if record.Neutralized {
			summary.Neutralized++
		}
		summary.ByTier[record.Tier.String()]++
		summary.Attempts += len(r.history[fp])
		top = append(top, record.Clone())
	}
	sort.Slice(top, func(i, j int) bool { return top[i].Score > top[j].Score })
	if topN > 0 && len(top) > topN {
		top = top[:topN]
	}
	summary.TopActors = top
	return summary
}
