// Package conversation is the coordinator's unified blocking/non-blocking
// pairwise messaging engine (spec.md §4.6) — the heart of the core. One
// Engine exposes SendAndWait, SendNoWait, GetOrWaitForResponse, and
// EndConversation over session acquisition, the waiter table, and the
// handler registry.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/handler"
	"github.com/agentmesh/coordinator/pkg/lock"
	"github.com/agentmesh/coordinator/pkg/metrics"
	"github.com/agentmesh/coordinator/pkg/models"
	"github.com/agentmesh/coordinator/pkg/store"
	"github.com/agentmesh/coordinator/pkg/telemetry"
	"github.com/agentmesh/coordinator/pkg/waiter"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Engine is the conversation subsystem. Construct one per process, sharing
// it with the rest of the coordinator facade.
type Engine struct {
	pool     *pgxpool.Pool
	store    *store.Store
	handlers *handler.Registry
	waiters  *waiter.Table
	metrics  *metrics.Registry
	tracer   telemetry.Tracer

	defaultTimeout   time.Duration
	maxTimeout       time.Duration
	fastPathDeadline time.Duration
}

// New builds an Engine. m and t may be nil, in which case no metrics are
// recorded and tracing uses whatever no-op provider otel defaults to.
func New(pool *pgxpool.Pool, s *store.Store, h *handler.Registry, w *waiter.Table, m *metrics.Registry, t telemetry.Tracer, defaultTimeout, maxTimeout, fastPathDeadline time.Duration) *Engine {
	if t == nil {
		t = telemetry.New()
	}
	return &Engine{
		pool: pool, store: s, handlers: h, waiters: w, metrics: m, tracer: t,
		defaultTimeout: defaultTimeout, maxTimeout: maxTimeout, fastPathDeadline: fastPathDeadline,
	}
}

// recordWait records a wait outcome into pkg/metrics if a registry was
// configured; a nil registry is a silent no-op so tests can omit it.
func (e *Engine) recordWait(operation, outcome string, since time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordWait(operation, outcome, time.Since(since))
}

func (e *Engine) resolveAgent(ctx context.Context, externalID, field string) (*models.Agent, error) {
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return nil, errs.NewValidationError(field, externalID, "must not be empty or whitespace")
	}
	return e.store.GetAgentByExternalID(ctx, trimmed)
}

// acquireSession implements spec.md §4.6's acquire_session helper: look up
// or lazily create the ACTIVE session for a canonical pair, reject if it's
// locked by someone else, pin a connection, acquire the per-session
// advisory lock, and mark the row locked by sender. The returned guard must
// be released on every exit path.
func (e *Engine) acquireSession(ctx context.Context, sender, recipient *models.Agent) (*models.Session, *sessionGuard, error) {
	sess, err := e.store.GetActiveSession(ctx, sender.ID, recipient.ID)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		sess, err = e.store.CreateSession(ctx, sender.ID, recipient.ID)
		if err != nil {
			return nil, nil, err
		}
	}

	if sess.Status != models.SessionActive {
		return nil, nil, errs.ErrSessionState
	}
	if sess.LockedAgentID != nil {
		return nil, nil, errs.NewLockUnavailableError("session", sess.ID.String(), sess.LockedAgentID.String())
	}

	ctx, acquireSpan := e.tracer.Start(ctx, telemetry.SpanAcquireSession)
	defer acquireSpan.End()

	waitStart := time.Now()
	lg, err := lock.Acquire(ctx, e.pool, sess.ID)
	if e.metrics != nil {
		e.metrics.RecordLockWait("session", time.Since(waitStart))
		if errors.Is(err, errs.ErrLockUnavailable) {
			e.metrics.RecordLockContention("session")
		}
	}
	if err != nil {
		acquireSpan.RecordError(err)
		return nil, nil, err
	}
	acquiredAt := time.Now()
	lockedStore := e.store.WithQueryer(lg.Conn)

	if err := lockedStore.SetSessionLocked(ctx, sess.ID, sender.ID); err != nil {
		_ = lg.Release(ctx)
		acquireSpan.RecordError(err)
		return nil, nil, err
	}

	return sess, &sessionGuard{store: lockedStore, lockGuard: lg, sessionID: sess.ID, metrics: e.metrics, acquiredAt: acquiredAt}, nil
}

// SendAndWait implements the blocking request/reply pattern (spec.md §4.6).
func (e *Engine) SendAndWait(ctx context.Context, senderExt, recipientExt string, msg any, timeout time.Duration, metadata map[string]any) (any, error) {
	ctx, span := e.tracer.Start(ctx, telemetry.SpanSendAndWait)
	defer span.End()
	started := time.Now()

	if timeout <= 0 || timeout > e.maxTimeout {
		err := errs.NewValidationError("timeout", timeout, fmt.Sprintf("must be in (0, %s]", e.maxTimeout))
		span.RecordError(err)
		return nil, err
	}
	if !e.handlers.Registered(handler.KindConversation) {
		span.RecordError(errs.ErrNoHandlerRegistered)
		return nil, errs.ErrNoHandlerRegistered
	}

	sender, err := e.resolveAgent(ctx, senderExt, "sender_external_id")
	if err != nil {
		return nil, err
	}
	recipient, err := e.resolveAgent(ctx, recipientExt, "recipient_external_id")
	if err != nil {
		return nil, err
	}

	sess, guard, err := e.acquireSession(ctx, sender, recipient)
	if err != nil {
		return nil, err
	}
	defer guard.Release(ctx)

	h, err := e.waiters.Register(sess.ID)
	if err != nil {
		return nil, err
	}
	defer e.waiters.Drop(h)

	content := wrapContent(msg)
	outbound, err := guard.Store().InsertSessionMessage(ctx, sess.ID, &sender.ID, models.MessageUserDefined, content, metadata)
	if err != nil {
		return nil, err
	}

	mctx := handler.Context{
		SenderExternalID: senderExt, ReceiverExternalID: recipientExt,
		HandlerKind: handler.KindConversation, MessageID: outbound.ID, SessionID: &sess.ID, Metadata: metadata,
	}

	// Handler fast path (spec.md §4.6 step 5): a short synchronous probe.
	fastCtx, fastSpan := e.tracer.Start(ctx, telemetry.SpanFastPath)
	fastVal, fastErr := e.handlers.InvokeSync(fastCtx, handler.KindConversation, msg, mctx, e.fastPathDeadline)
	fastSpan.End()
	if fastErr == nil && fastVal != nil {
		reply, err := guard.Store().InsertSessionMessage(ctx, sess.ID, &recipient.ID, models.MessageUserDefined, wrapContent(fastVal), nil)
		if err != nil {
			return nil, err
		}
		if err := guard.Store().MarkMessageRead(ctx, reply.ID); err != nil {
			return nil, err
		}
		e.recordWait("send_and_wait", "replied", started)
		return fastVal, nil
	}
	// Handler exceptions during the fast path are logged, not fatal — the
	// detached invocation below still runs so a handler can reply out-of-band.
	if fastErr != nil && !errors.Is(fastErr, errs.ErrHandlerTimeout) {
		slog.Warn("conversation fast-path handler failed",
			"session_id", sess.ID, "message_id", outbound.ID, "error", fastErr)
	}
	e.handlers.InvokeDetached(ctx, handler.KindConversation, msg, mctx)

	// Poll once for a reply that beat the fast path via a side channel
	// (spec.md §4.6 step 6).
	if reply, err := e.pollUnreadWith(ctx, guard.Store(), sess.ID, recipient.ID); err != nil {
		return nil, err
	} else if reply != nil {
		e.recordWait("send_and_wait", "replied", started)
		return replyValue(reply), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, woke := h.Wait(waitCtx)
	if !woke {
		outcome := "timeout"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
		e.recordWait("send_and_wait", outcome, started)
		return nil, errs.ErrTimeout
	}
	if response != nil {
		// The slot only carries the woken value, not the message id, so the
		// reply row is still unread — resolve it the same way the poll
		// branches below do, to mark it read before returning (spec.md §4.6
		// step 7).
		woken, err := e.pollUnreadWith(ctx, guard.Store(), sess.ID, recipient.ID)
		if err != nil {
			return nil, err
		}
		e.recordWait("send_and_wait", "replied", started)
		if woken != nil {
			return replyValue(woken), nil
		}
		return response, nil
	}

	reply, err := e.pollUnreadWith(ctx, guard.Store(), sess.ID, recipient.ID)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		e.recordWait("send_and_wait", "timeout", started)
		return nil, errs.ErrTimeout
	}
	e.recordWait("send_and_wait", "replied", started)
	return replyValue(reply), nil
}

// pollUnread checks for an unread reply through the Engine's pool-backed
// store — used outside any lock-held critical section (GetOrWaitForResponse
// never takes the session lock).
func (e *Engine) pollUnread(ctx context.Context, sessionID, senderID uuid.UUID) (*models.Message, error) {
	return e.pollUnreadWith(ctx, e.store, sessionID, senderID)
}

// pollUnreadWith checks for an unread reply via s, so callers inside a
// lock-held critical section can pass the connection-pinned store returned
// by sessionGuard.Store instead of the Engine's pool-backed one.
func (e *Engine) pollUnreadWith(ctx context.Context, s *store.Store, sessionID, senderID uuid.UUID) (*models.Message, error) {
	msg, err := s.GetUnreadDirectMessage(ctx, sessionID, senderID)
	if err != nil || msg == nil {
		return nil, err
	}
	if err := s.MarkMessageRead(ctx, msg.ID); err != nil {
		return nil, err
	}
	return msg, nil
}

func replyValue(m *models.Message) any {
	return m.Content
}

// SendNoWait implements the non-blocking queue-or-wake pattern (spec.md
// §4.6). It never takes the session lock, so it cannot block on a peer's
// SendAndWait.
func (e *Engine) SendNoWait(ctx context.Context, senderExt, recipientExt string, msg any, metadata map[string]any) (uuid.UUID, error) {
	sender, err := e.resolveAgent(ctx, senderExt, "sender_external_id")
	if err != nil {
		return uuid.Nil, err
	}
	recipient, err := e.resolveAgent(ctx, recipientExt, "recipient_external_id")
	if err != nil {
		return uuid.Nil, err
	}

	sess, err := e.store.GetActiveSession(ctx, sender.ID, recipient.ID)
	if err != nil {
		return uuid.Nil, err
	}
	if sess == nil {
		sess, err = e.store.CreateSession(ctx, sender.ID, recipient.ID)
		if err != nil {
			return uuid.Nil, err
		}
	}

	content := wrapContent(msg)
	outbound, err := e.store.InsertSessionMessage(ctx, sess.ID, &sender.ID, models.MessageUserDefined, content, metadata)
	if err != nil {
		return uuid.Nil, err
	}

	mctx := handler.Context{
		SenderExternalID: senderExt, ReceiverExternalID: recipientExt,
		HandlerKind: handler.KindConversation, MessageID: outbound.ID, SessionID: &sess.ID, Metadata: metadata,
	}
	e.handlers.InvokeDetached(ctx, handler.KindConversation, msg, mctx)

	// Wake semantics (spec.md §4.6 step 4): a peer waiting on this session
	// gets the signal; otherwise push a notification.
	if !e.waiters.TryWake(sess.ID, content) {
		e.handlers.InvokeDetached(ctx, handler.KindNotification, msg, mctx)
	}

	return outbound.ID, nil
}

// GetOrWaitForResponse implements the queue-then-wait read pattern
// (spec.md §4.6).
func (e *Engine) GetOrWaitForResponse(ctx context.Context, receiverExt, senderExt string, timeout time.Duration) (*models.Message, error) {
	ctx, span := e.tracer.Start(ctx, telemetry.SpanWaitForResponse)
	defer span.End()
	started := time.Now()

	receiver, err := e.resolveAgent(ctx, receiverExt, "receiver_external_id")
	if err != nil {
		return nil, err
	}
	sender, err := e.resolveAgent(ctx, senderExt, "sender_external_id")
	if err != nil {
		return nil, err
	}

	sess, err := e.store.GetActiveSession(ctx, sender.ID, receiver.ID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		if reply, err := e.pollUnread(ctx, sess.ID, sender.ID); err != nil {
			return nil, err
		} else if reply != nil {
			return reply, nil
		}
	} else {
		sess, err = e.store.CreateSession(ctx, sender.ID, receiver.ID)
		if err != nil {
			return nil, err
		}
	}

	if timeout <= 0 {
		return nil, nil
	}

	h, err := e.waiters.Register(sess.ID)
	if err != nil {
		// A concurrent waiter exists (e.g. a peer's SendAndWait) — fall back
		// to a single re-check rather than surfacing LockUnavailable to a
		// passive reader.
		return e.pollUnread(ctx, sess.ID, sender.ID)
	}
	defer e.waiters.Drop(h)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, woke := h.Wait(waitCtx); !woke {
		outcome := "timeout"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
		e.recordWait("get_or_wait_for_response", outcome, started)
		return nil, nil
	}

	if reply, err := e.pollUnread(ctx, sess.ID, sender.ID); err != nil {
		return nil, err
	} else if reply != nil {
		e.recordWait("get_or_wait_for_response", "replied", started)
		return reply, nil
	}
	// One final re-check to catch a send_no_wait that raced with
	// registration (spec.md §4.6 get_or_wait_for_response step 3).
	final, err := e.pollUnread(ctx, sess.ID, sender.ID)
	if final != nil {
		e.recordWait("get_or_wait_for_response", "replied", started)
	}
	return final, err
}

// EndConversation implements spec.md §4.6's end_conversation: idempotent
// termination with a SYSTEM message in both directions.
func (e *Engine) EndConversation(ctx context.Context, aExt, bExt string) error {
	a, err := e.resolveAgent(ctx, aExt, "a_external_id")
	if err != nil {
		return err
	}
	b, err := e.resolveAgent(ctx, bExt, "b_external_id")
	if err != nil {
		return err
	}

	sess, err := e.store.GetActiveSession(ctx, a.ID, b.ID)
	if err != nil {
		return err
	}
	if sess == nil {
		return errs.ErrSessionState
	}
	if err := e.store.EndSession(ctx, sess.ID); err != nil {
		return err
	}

	endedContent := map[string]any{"type": "conversation_ended"}
	if _, err := e.store.InsertSessionMessage(ctx, sess.ID, &a.ID, models.MessageSystem, endedContent, nil); err != nil {
		return err
	}
	if _, err := e.store.InsertSessionMessage(ctx, sess.ID, &b.ID, models.MessageSystem, endedContent, nil); err != nil {
		return err
	}

	e.handlers.InvokeDetached(ctx, handler.KindConversation, endedContent, handler.Context{
		SenderExternalID: aExt, ReceiverExternalID: bExt, HandlerKind: handler.KindConversation, SessionID: &sess.ID,
	})
	e.handlers.InvokeDetached(ctx, handler.KindConversation, endedContent, handler.Context{
		SenderExternalID: bExt, ReceiverExternalID: aExt, HandlerKind: handler.KindConversation, SessionID: &sess.ID,
	})

	return nil
}
