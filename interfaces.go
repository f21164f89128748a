package botguard

import (
	"context"
)

// ActorStore is the pluggable persistence layer behind the registry. Both
// relations are append-favoring: actor rows are upserted, attempts are only
// ever inserted.
type ActorStore interface {
	SaveActor(ctx context.Context, record *ActorRecord) error
	GetActor(ctx context.Context, fp Fingerprint) (*ActorRecord, error)
	ListActors(ctx context.Context) ([]*ActorRecord, error)

	AppendAttempt(ctx context.Context, attempt *ResponseAttempt) error
	ListAttempts(ctx context.Context, fp Fingerprint) ([]*ResponseAttempt, error)

	HealthCheck() error
	Close() error
}

// WarnChannel delivers a warning notice to an actor. Implementations report
// delivery failure through the Outcome, never through a panic or error.
type WarnChannel interface {
	Name() string
	Notify(ctx context.Context, record *ActorRecord, notice string) Outcome
}

// ActionChannel executes a counter-measure against an actor. Available
// reports whether the underlying tool/resource can currently be invoked so
// the dispatcher can fall back to a logging-only attempt.
type ActionChannel interface {
	Name() string
	Available() bool
	Act(ctx context.Context, record *ActorRecord) Outcome
}

// MetricsCollector interface for observability.
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	ExportPrometheus() string
	HealthCheck() error
}
