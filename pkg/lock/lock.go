// Package lock implements the coordinator's advisory-lock primitive:
// deriving a stable 63-bit key from a session or meeting identifier, and
// acquiring/releasing PostgreSQL's connection-scoped advisory lock on a
// single pinned connection for the duration of a critical section.
//
// Connection pinning is a correctness requirement, not an optimization —
// advisory locks are scoped to the connection that holds them, so the
// pinned *pgxpool.Conn returned by Acquire must be the same connection used
// for every statement inside the critical section, and must be released
// back to the pool only after the unlock has run; Guard.Release does both,
// in that order.
package lock

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// int63Mask clears the sign bit so the derived key is always a valid
// non-negative int64, as pg_try_advisory_lock's bigint argument expects.
const int63Mask = int64(^uint64(0) >> 1)

// DeriveKey computes a deterministic 63-bit advisory-lock key from an
// identifier. It reads the first 8 bytes of the UUID as a big-endian
// uint64 and masks off the sign bit. Collisions across different
// identifiers are statistically negligible and not a correctness issue: a
// coincidental collision only serializes two unrelated operations briefly.
func DeriveKey(id uuid.UUID) int64 {
	raw := binary.BigEndian.Uint64(id[:8])
	return int64(raw) & int63Mask
}

// Guard holds a pinned connection and an acquired advisory-lock key for the
// lifetime of a critical section. Release must run on every exit path —
// success, error, or cancellation; it unlocks and then returns the
// connection to the pool, so callers defer it right after Acquire succeeds.
type Guard struct {
	Conn *pgxpool.Conn
	key  int64
}

// Acquire pins a connection from the pool and attempts the non-blocking
// advisory lock for id. On failure to acquire the lock, the pinned
// connection is released back to the pool before returning
// errs.ErrLockUnavailable — callers must not call Release in that case.
func Acquire(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) (*Guard, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring pooled connection: %v", errs.ErrPersistence, err)
	}

	key := DeriveKey(id)
	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, fmt.Errorf("%w: pg_try_advisory_lock: %v", errs.ErrPersistence, err)
	}
	if !acquired {
		conn.Release()
		return nil, errs.NewLockUnavailableError("advisory", fmt.Sprintf("%d", key), "")
	}

	return &Guard{Conn: conn, key: key}, nil
}

// Release releases the advisory lock on the pinned connection and returns
// the connection to the pool. Safe to call at most once per Guard; it is
// the caller's job (typically via defer immediately after a successful
// Acquire) to guarantee it runs on every exit path.
func (g *Guard) Release(ctx context.Context) error {
	if g == nil || g.Conn == nil {
		return nil
	}
	defer g.Conn.Release()

	var released bool
	if err := g.Conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", g.key).Scan(&released); err != nil {
		return fmt.Errorf("%w: pg_advisory_unlock: %v", errs.ErrPersistence, err)
	}
	return nil
}
