package messenger_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentmesh/coordinator/internal/testdb"
	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/handler"
	"github.com/agentmesh/coordinator/pkg/messenger"
	"github.com/agentmesh/coordinator/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessenger(t *testing.T) (*messenger.Messenger, *store.Store, *handler.Registry) {
	t.Helper()
	client := testdb.NewClient(t)
	s := store.New(client.Pool)
	h := handler.NewRegistry(time.Second, time.Second, nil)
	return messenger.New(s, h), s, h
}

func mustCreateAgent(t *testing.T, s *store.Store, externalID string) {
	t.Helper()
	org, err := s.CreateOrganization(context.Background(), externalID+"-org", externalID+" org")
	require.NoError(t, err)
	_, err = s.CreateAgent(context.Background(), externalID, externalID, org.ID)
	require.NoError(t, err)
}

func TestSend_NoHandlerRegisteredFailsBeforePersisting(t *testing.T) {
	m, s, _ := newMessenger(t)
	mustCreateAgent(t, s, "sender")
	mustCreateAgent(t, s, "recipient")

	_, err := m.Send(context.Background(), "sender", []string{"recipient"}, map[string]any{"text": "hi"}, nil)
	assert.ErrorIs(t, err, errs.ErrNoHandlerRegistered)
}

func TestSend_DeliversToMultipleRecipients(t *testing.T) {
	m, s, h := newMessenger(t)
	mustCreateAgent(t, s, "broadcaster")
	mustCreateAgent(t, s, "r1")
	mustCreateAgent(t, s, "r2")
	h.Register(handler.KindOneWay, func(ctx context.Context, msg any, mctx handler.Context) (any, error) { return nil, nil })

	ids, err := m.Send(context.Background(), "broadcaster", []string{"r1", "r2"}, map[string]any{"text": "hi"}, nil)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestSend_RejectsSelfSend(t *testing.T) {
	m, s, h := newMessenger(t)
	mustCreateAgent(t, s, "loner")
	h.Register(handler.KindOneWay, func(ctx context.Context, msg any, mctx handler.Context) (any, error) { return nil, nil })

	_, err := m.Send(context.Background(), "loner", []string{"loner"}, nil, nil)
	var valErr *errs.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestSend_RejectsEmptyRecipientList(t *testing.T) {
	m, s, h := newMessenger(t)
	mustCreateAgent(t, s, "alone")
	h.Register(handler.KindOneWay, func(ctx context.Context, msg any, mctx handler.Context) (any, error) { return nil, nil })

	_, err := m.Send(context.Background(), "alone", nil, nil, nil)
	assert.Error(t, err)
}
