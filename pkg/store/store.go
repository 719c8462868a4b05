// Package store holds the coordinator's persistence adapters: narrow CRUD
// over organizations, agents, sessions, meetings, participants, messages,
// and meeting events. All SQL lives here — the coordinator never builds SQL
// (spec.md §2). Every adapter accepts either the pool directly or, where
// the caller is inside a lock-pinned critical section, the pinned
// *pgxpool.Conn via the Queryer interface so the same connection is reused.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Queryer is the subset of *pgxpool.Pool and *pgxpool.Conn that the
// adapters need. Passing a pinned connection instead of the pool lets
// callers run adapter queries inside an advisory-lock critical section
// without acquiring a second connection.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store bundles a Queryer for adapters. Pool is usually a *pgxpool.Pool,
// but WithQueryer can rebind it to a single pinned *pgxpool.Conn so
// callers inside a lock-held critical section read-your-writes on the
// same connection that holds the advisory lock.
type Store struct {
	Pool Queryer
}

// New builds a Store over a connection pool.
func New(pool Queryer) *Store {
	return &Store{Pool: pool}
}

// WithQueryer returns a Store backed by q instead of s's own pool — used to
// route queries through a pinned connection for the duration of an
// advisory-lock critical section (see pkg/lock). The returned Store shares
// no mutable state with s.
func (s *Store) WithQueryer(q Queryer) *Store {
	return &Store{Pool: q}
}
