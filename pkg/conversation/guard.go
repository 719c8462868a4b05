package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentmesh/coordinator/pkg/lock"
	"github.com/agentmesh/coordinator/pkg/metrics"
	"github.com/agentmesh/coordinator/pkg/store"
	"github.com/google/uuid"
)

// sessionGuard is returned by acquireSession (spec.md §4.6 acquire_session
// step 6). Release must run on every exit path — success, error, or
// cancellation — clearing locked_agent_id before releasing the advisory
// lock, in that order, as the spec's guard contract requires.
type sessionGuard struct {
	store      *store.Store
	lockGuard  *lock.Guard
	sessionID  uuid.UUID
	released   bool
	metrics    *metrics.Registry
	acquiredAt time.Time
}

// Store returns the connection-pinned Store that routes queries through
// the same connection holding this guard's advisory lock. Callers must use
// it, not the Engine's pool-backed store, for any read or write performed
// while the lock is held.
func (g *sessionGuard) Store() *store.Store {
	return g.store
}

// Release clears locked_agent_id and releases the pinned-connection
// advisory lock, in that order. Safe to call multiple times; only the
// first call has effect. Errors are logged, not returned — a guard's
// Release runs from defer in every caller and must never itself become a
// reason to skip later cleanup steps.
func (g *sessionGuard) Release(ctx context.Context) {
	if g == nil || g.released {
		return
	}
	g.released = true

	if err := g.store.ClearSessionLocked(ctx, g.sessionID); err != nil {
		slog.Error("failed to clear session lock", "session_id", g.sessionID, "error", err)
	}
	if err := g.lockGuard.Release(ctx); err != nil {
		slog.Error("failed to release advisory lock", "session_id", g.sessionID, "error", err)
	}
	if g.metrics != nil && !g.acquiredAt.IsZero() {
		g.metrics.RecordLockHold("session", time.Since(g.acquiredAt))
	}
}
