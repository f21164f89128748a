package botguard

import "errors"

// ErrPersistenceFailure wraps any registry read/write error coming out of the
// ActorStore. The in-memory view is still updated best-effort; callers decide
// whether to retry the event.
var ErrPersistenceFailure = errors.New("persistence failure")

// ErrChannelUnavailable marks an action channel whose underlying tool or
// resource is missing. The dispatcher converts it into a logging-only
// attempt, never a silent no-op.
var ErrChannelUnavailable = errors.New("channel unavailable")
