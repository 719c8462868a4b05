package waiter

import (
	"context"
	"testing"
	"time"

	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_RegisterTwiceFails(t *testing.T) {
	table := NewTable()
	sessionID := uuid.New()

	h1, err := table.Register(sessionID)
	require.NoError(t, err)
	require.NotNil(t, h1)

	_, err = table.Register(sessionID)
	assert.ErrorIs(t, err, errs.ErrLockUnavailable)

	table.Drop(h1)
}

func TestTable_TryWakeDeliversResponse(t *testing.T) {
	table := NewTable()
	sessionID := uuid.New()

	h, err := table.Register(sessionID)
	require.NoError(t, err)

	done := make(chan struct{})
	var response any
	var woke bool
	go func() {
		response, woke = h.Wait(context.Background())
		close(done)
	}()

	assert.True(t, table.TryWake(sessionID, "hello"))
	<-done

	assert.True(t, woke)
	assert.Equal(t, "hello", response)
	table.Drop(h)
}

func TestTable_TryWakeWithoutWaiterReturnsFalse(t *testing.T) {
	table := NewTable()
	assert.False(t, table.TryWake(uuid.New(), "anything"))
}

func TestTable_WaitTimesOutOnContextCancel(t *testing.T) {
	table := NewTable()
	sessionID := uuid.New()

	h, err := table.Register(sessionID)
	require.NoError(t, err)
	defer table.Drop(h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	response, woke := h.Wait(ctx)
	assert.False(t, woke)
	assert.Nil(t, response)
}

func TestTable_DropRemovesWaiter(t *testing.T) {
	table := NewTable()
	sessionID := uuid.New()

	h, err := table.Register(sessionID)
	require.NoError(t, err)
	assert.True(t, table.Registered(sessionID))

	table.Drop(h)
	assert.False(t, table.Registered(sessionID))

	// A new registration should succeed once the prior waiter is dropped.
	h2, err := table.Register(sessionID)
	require.NoError(t, err)
	table.Drop(h2)
}

func TestTable_TryWakeOnlyFiresOnce(t *testing.T) {
	table := NewTable()
	sessionID := uuid.New()

	h, err := table.Register(sessionID)
	require.NoError(t, err)
	defer table.Drop(h)

	assert.True(t, table.TryWake(sessionID, "first"))
	assert.True(t, table.TryWake(sessionID, "second"))

	response, woke := h.Wait(context.Background())
	assert.True(t, woke)
	assert.Equal(t, "first", response)
}
