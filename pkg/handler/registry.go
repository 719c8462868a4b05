// Package handler is the coordinator's process-wide callback table
// (spec.md §4.2): one user-supplied callback per HandlerKind, invoked
// either synchronously with a deadline (InvokeSync) or detached on a
// supervised background goroutine (InvokeDetached).
package handler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/metrics"
	"github.com/google/uuid"
)

// Kind identifies which class of message a callback handles (spec.md §4.2).
type Kind string

const (
	KindOneWay       Kind = "one_way"
	KindConversation Kind = "conversation"
	KindMeeting      Kind = "meeting"
	KindSystem       Kind = "system"
	KindNotification Kind = "notification"
)

// Context carries the addressing and correlation data every callback
// receives alongside the message value (spec.md §4.2 MessageContext).
type Context struct {
	SenderExternalID       string
	ReceiverExternalID     string
	OrganizationExternalID string
	HandlerKind            Kind
	MessageID              uuid.UUID
	SessionID              *uuid.UUID
	MeetingID              *uuid.UUID
	Metadata               map[string]any
}

// Callback is a user-supplied handler. A non-nil returned value is only
// meaningful for KindConversation (spec.md §6): the conversation engine
// auto-persists it as the reply. For every other kind, the return value is
// ignored.
type Callback func(ctx context.Context, msg any, mctx Context) (any, error)

// Registry holds one Callback per Kind, process-wide (spec.md §4.2,
// §9 "Global handler singleton"). Registering overwrites any prior entry
// for the same kind.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Callback
	metrics  *metrics.Registry

	invokeSyncDeadline time.Duration
	detachedDeadline   time.Duration

	wg sync.WaitGroup
}

// NewRegistry builds a Registry with the configured deadlines (spec.md §6
// "handler deadline"). m may be nil, in which case invocations are not
// recorded into pkg/metrics.
func NewRegistry(invokeSyncDeadline, detachedDeadline time.Duration, m *metrics.Registry) *Registry {
	return &Registry{
		handlers:           make(map[Kind]Callback),
		metrics:            m,
		invokeSyncDeadline: invokeSyncDeadline,
		detachedDeadline:   detachedDeadline,
	}
}

func (r *Registry) recordInvocation(kind Kind, mode, outcome string, started time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordHandlerInvocation(string(kind), mode, outcome, time.Since(started))
}

// Register sets the callback for a Kind, replacing any existing one.
func (r *Registry) Register(kind Kind, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = cb
}

// Registered reports whether a callback is registered for kind.
func (r *Registry) Registered(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

func (r *Registry) lookup(kind Kind) (Callback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.handlers[kind]
	return cb, ok
}

// InvokeSync runs the callback registered for kind with a bounded deadline
// (default from NewRegistry, overridable per call via deadline — used for
// the conversation fast path's ~100ms window, spec.md §4.6 step 5). Returns
// errs.ErrNoHandlerRegistered if no callback is registered, and
// errs.ErrHandlerTimeout if the deadline elapses before the callback
// returns. Any error the callback itself returns propagates to the caller
// unwrapped (spec.md §4.2).
func (r *Registry) InvokeSync(ctx context.Context, kind Kind, msg any, mctx Context, deadline time.Duration) (any, error) {
	started := time.Now()
	cb, ok := r.lookup(kind)
	if !ok {
		return nil, errs.ErrNoHandlerRegistered
	}
	if deadline <= 0 {
		deadline = r.invokeSyncDeadline
	}

	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type result struct {
		val any
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- result{err: &errs.HandlerPanicError{Kind: string(kind), Recovered: rec}}
			}
		}()
		val, err := cb(callCtx, msg, mctx)
		resultCh <- result{val: val, err: err}
	}()

	select {
	case res := <-resultCh:
		outcome := "ok"
		if res.err != nil {
			outcome = "error"
		}
		r.recordInvocation(kind, "sync", outcome, started)
		return res.val, res.err
	case <-callCtx.Done():
		r.recordInvocation(kind, "sync", "timeout", started)
		return nil, errs.ErrHandlerTimeout
	}
}

// InvokeDetached spawns the callback on a supervised background goroutine
// with the registry's detached deadline, logging and swallowing any error,
// timeout, or panic (spec.md §4.2 invoke_detached). Fire-and-forget: it
// returns immediately. If no callback is registered for kind, this is a
// silent no-op — unlike InvokeSync, detached dispatch has no caller waiting
// to observe NoHandlerRegistered.
func (r *Registry) InvokeDetached(ctx context.Context, kind Kind, msg any, mctx Context) {
	cb, ok := r.lookup(kind)
	if !ok {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		started := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("detached handler panicked",
					"handler_kind", kind, "message_id", mctx.MessageID, "panic", rec)
				r.recordInvocation(kind, "detached", "panic", started)
			}
		}()

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.detachedDeadline)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					done <- &errs.HandlerPanicError{Kind: string(kind), Recovered: rec}
				}
			}()
			_, err := cb(callCtx, msg, mctx)
			done <- err
		}()

		select {
		case err := <-done:
			outcome := "ok"
			var panicErr *errs.HandlerPanicError
			if errors.As(err, &panicErr) {
				outcome = "panic"
				slog.Error("detached handler panicked",
					"handler_kind", kind, "message_id", mctx.MessageID, "panic", panicErr.Recovered)
			} else if err != nil {
				outcome = "error"
				slog.Error("detached handler returned error",
					"handler_kind", kind, "message_id", mctx.MessageID, "error", err)
			}
			r.recordInvocation(kind, "detached", outcome, started)
		case <-callCtx.Done():
			slog.Warn("detached handler timed out",
				"handler_kind", kind, "message_id", mctx.MessageID)
			r.recordInvocation(kind, "detached", "timeout", started)
		}
	}()
}

// Shutdown awaits all outstanding detached invocations (spec.md §4.2
// "Shutdown awaits all outstanding detached tasks").
func (r *Registry) Shutdown() {
	r.wg.Wait()
}
