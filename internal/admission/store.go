package admission

import (
	"context"
	"time"

	"mint-gateway/internal/models"
)

// CounterResult is the state of a fixed-window counter after an increment.
type CounterResult struct {
	Count       int
	WindowStart time.Time
	ResetAt     time.Time
}

// Remaining returns how many requests are left under limit, never negative.
func (r CounterResult) Remaining(limit int) int {
	if rem := limit - r.Count; rem > 0 {
		return rem
	}
	return 0
}

// LockResult is the outcome of a TryLock attempt.
type LockResult struct {
	Acquired  bool
	Reclaimed bool // a stale lock was force-released to grant this one
	HeldSince time.Time
	Owner     string
}

// Store is the process-wide admission state: fixed-window counters and
// per-wallet mutual-exclusion locks. The in-memory implementation is the
// default; a Redis-backed one exists for multi-instance deployments. Call
// sites never depend on which one is wired.
type Store interface {
	// Increment bumps the counter for key, resetting it first when the
	// window has elapsed since the window start.
	Increment(ctx context.Context, key string, window time.Duration) (CounterResult, error)

	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error

	// TryLock acquires the mutual-exclusion lock for key without blocking.
	// A held lock older than staleAfter is treated as abandoned and
	// reclaimed; the result reports the reclamation so callers can log it.
	TryLock(ctx context.Context, key, owner string, staleAfter time.Duration) (LockResult, error)

	// Unlock releases the lock for key if owner still holds it.
	Unlock(ctx context.Context, key, owner string) error
}

// Recorder is the audit surface the pipeline and its stages write decisions
// to. Implementations must never block or return an error to the caller.
type Recorder interface {
	Record(eventType, message, ip string, data *models.EventData)
}

// NopRecorder discards events; used when no sink is wired and in tests.
type NopRecorder struct{}

func (NopRecorder) Record(eventType, message, ip string, data *models.EventData) {}
