package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ReturnsUsableTracer(t *testing.T) {
	tr := New()
	require.NotNil(t, tr)

	ctx, span := tr.Start(context.Background(), SpanAcquireSession)
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestSpan_RecordErrorIsNilSafe(t *testing.T) {
	tr := New()
	_, span := tr.Start(context.Background(), SpanSendAndWait)
	defer span.End()

	assert.NotPanics(t, func() {
		span.RecordError(nil)
		span.RecordError(errors.New("boom"))
	})
}

func TestAgentAttr_SetsKeyAndValue(t *testing.T) {
	attr := AgentAttr("sender_agent_id", "agent-123")
	assert.Equal(t, "sender_agent_id", string(attr.Key))
	assert.Equal(t, "agent-123", attr.Value.AsString())
}
