// Package waiter is the coordinator's cross-goroutine wake-up table
// (spec.md §4.4): a process-wide map from session id to a one-shot wake
// signal plus an optional parked response slot, letting send_no_wait (or
// any counterpart write) wake a goroutine blocked in send_and_wait or
// get_or_wait_for_response.
//
// No cross-ownership: the table never hands out pointers into its own
// internal state beyond a Handle, mirroring the register/try_wake/drop
// shape spec.md §9 calls for to avoid aliasing between the conversation
// engine and the table.
package waiter

import (
	"context"
	"sync"

	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/google/uuid"
)

type entry struct {
	signal   chan struct{}
	once     sync.Once
	mu       sync.Mutex
	response any
	has      bool
}

// Table is the process-wide session id -> waiter map.
type Table struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]*entry
}

// NewTable creates an empty waiter table.
func NewTable() *Table {
	return &Table{waiters: make(map[uuid.UUID]*entry)}
}

// Handle is the opaque registration returned by Register. Callers hold it
// only to pass to Drop; the table retains no reference back to the caller.
type Handle struct {
	sessionID uuid.UUID
	e         *entry
}

// Register creates a waiter for sessionID. At most one waiter may exist per
// session at a time (spec.md §4.4): a second registration attempt returns
// errs.ErrLockUnavailable, matching the invariant that only the session-lock
// holder may register (a second caller would have already failed to
// acquire the session lock before reaching this call).
func (t *Table) Register(sessionID uuid.UUID) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.waiters[sessionID]; exists {
		return nil, errs.ErrLockUnavailable
	}
	e := &entry{signal: make(chan struct{})}
	t.waiters[sessionID] = e
	return &Handle{sessionID: sessionID, e: e}, nil
}

// TryWake fires the signal for sessionID, if a waiter is registered, and
// optionally parks a response value in the fast-path slot. Returns false if
// no waiter is registered (the message will be picked up by a poll instead,
// per spec.md §4.6 step 6 / §4.5 notification fallback). Safe to call
// multiple times; only the first call's signal fire has effect, and only
// the first non-nil response is kept in the slot.
func (t *Table) TryWake(sessionID uuid.UUID, response any) bool {
	t.mu.Lock()
	e, exists := t.waiters[sessionID]
	t.mu.Unlock()
	if !exists {
		return false
	}

	if response != nil {
		e.mu.Lock()
		if !e.has {
			e.response = response
			e.has = true
		}
		e.mu.Unlock()
	}
	e.once.Do(func() { close(e.signal) })
	return true
}

// Wait blocks until the waiter is woken or ctx is done, whichever comes
// first. It returns the parked response (nil if none was set) and whether
// the wake happened before context cancellation.
func (h *Handle) Wait(ctx context.Context) (response any, woke bool) {
	select {
	case <-h.e.signal:
		h.e.mu.Lock()
		defer h.e.mu.Unlock()
		return h.e.response, true
	case <-ctx.Done():
		return nil, false
	}
}

// Drop removes the waiter for this handle's session, run on every exit path
// — successful delivery, timeout, or cancellation (spec.md §4.4 "Clean up
// on every exit"). A waiter left in the map after this point is a leak.
func (t *Table) Drop(h *Handle) {
	if h == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.waiters[h.sessionID]; ok && cur == h.e {
		delete(t.waiters, h.sessionID)
	}
}

// Registered reports whether a waiter currently exists for sessionID. The
// send paths do not call it: SendNoWait chooses between the wake and the
// notification handler from TryWake's return value.
func (t *Table) Registered(sessionID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.waiters[sessionID]
	return ok
}
