package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_InvokeSyncNoHandlerRegistered(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, 50*time.Millisecond, nil)
	_, err := r.InvokeSync(context.Background(), KindOneWay, "msg", Context{}, 0)
	assert.ErrorIs(t, err, errs.ErrNoHandlerRegistered)
}

func TestRegistry_InvokeSyncReturnsCallbackResult(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, 50*time.Millisecond, nil)
	r.Register(KindConversation, func(ctx context.Context, msg any, mctx Context) (any, error) {
		return "reply:" + msg.(string), nil
	})

	val, err := r.InvokeSync(context.Background(), KindConversation, "hi", Context{}, 0)
	require.NoError(t, err)
	assert.Equal(t, "reply:hi", val)
}

func TestRegistry_InvokeSyncPropagatesCallbackError(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, 50*time.Millisecond, nil)
	wantErr := errors.New("boom")
	r.Register(KindConversation, func(ctx context.Context, msg any, mctx Context) (any, error) {
		return nil, wantErr
	})

	_, err := r.InvokeSync(context.Background(), KindConversation, "hi", Context{}, 0)
	assert.ErrorIs(t, err, wantErr)
}

func TestRegistry_InvokeSyncTimesOut(t *testing.T) {
	r := NewRegistry(20*time.Millisecond, 20*time.Millisecond, nil)
	r.Register(KindConversation, func(ctx context.Context, msg any, mctx Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := r.InvokeSync(context.Background(), KindConversation, "hi", Context{}, 0)
	assert.ErrorIs(t, err, errs.ErrHandlerTimeout)
}

func TestRegistry_InvokeSyncRecoversPanic(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, 50*time.Millisecond, nil)
	r.Register(KindConversation, func(ctx context.Context, msg any, mctx Context) (any, error) {
		panic("oh no")
	})

	_, err := r.InvokeSync(context.Background(), KindConversation, "hi", Context{}, 0)
	var panicErr *errs.HandlerPanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, string(KindConversation), panicErr.Kind)
}

func TestRegistry_InvokeDetachedNoHandlerIsNoop(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, 50*time.Millisecond, nil)
	r.InvokeDetached(context.Background(), KindNotification, "msg", Context{})
	r.Shutdown()
}

func TestRegistry_InvokeDetachedRunsAndShutdownWaits(t *testing.T) {
	r := NewRegistry(100*time.Millisecond, 100*time.Millisecond, nil)
	ran := make(chan struct{})
	r.Register(KindNotification, func(ctx context.Context, msg any, mctx Context) (any, error) {
		close(ran)
		return nil, nil
	})

	r.InvokeDetached(context.Background(), KindNotification, "msg", Context{})
	r.Shutdown()

	select {
	case <-ran:
	default:
		t.Fatal("expected detached handler to have run before Shutdown returned")
	}
}

func TestRegistry_InvokeDetachedSurvivesPanic(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, 50*time.Millisecond, nil)
	r.Register(KindNotification, func(ctx context.Context, msg any, mctx Context) (any, error) {
		panic("detached boom")
	})

	r.InvokeDetached(context.Background(), KindNotification, "msg", Context{})
	r.Shutdown() // must return even though the callback panicked
}

func TestRegistry_RegisteredReflectsState(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, 50*time.Millisecond, nil)
	assert.False(t, r.Registered(KindSystem))
	r.Register(KindSystem, func(ctx context.Context, msg any, mctx Context) (any, error) { return nil, nil })
	assert.True(t, r.Registered(KindSystem))
}
