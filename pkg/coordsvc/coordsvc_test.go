package coordsvc

import (
	"context"
	"testing"
	"time"

	"github.com/agentmesh/coordinator/internal/testdb"
	"github.com/agentmesh/coordinator/pkg/config"
	"github.com/agentmesh/coordinator/pkg/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	client := testdb.NewClient(t)
	cfg := &config.Config{
		Conversation:   config.DefaultConversationConfig(),
		Handler:        config.DefaultHandlerConfig(),
		Meeting:        config.DefaultMeetingConfig(),
		MetricsEnabled: true,
		TracingEnabled: true,
	}
	coord := newFromClient(client, cfg)
	t.Cleanup(func() {
		coord.Meeting.Shutdown()
		coord.Handlers.Shutdown()
	})
	return coord
}

func TestNewFromClient_WiresEverySubsystem(t *testing.T) {
	coord := newTestCoordinator(t)

	assert.NotNil(t, coord.Store)
	assert.NotNil(t, coord.Handlers)
	assert.NotNil(t, coord.Bus)
	assert.NotNil(t, coord.Waiters)
	assert.NotNil(t, coord.Messenger)
	assert.NotNil(t, coord.Conversation)
	assert.NotNil(t, coord.Meeting)
	assert.NotNil(t, coord.Metrics)
	assert.NotNil(t, coord.Tracer)
}

func TestCoordinator_Health_ReportsLiveDatabase(t *testing.T) {
	coord := newTestCoordinator(t)
	assert.NoError(t, coord.Health(context.Background()))
}

func TestCoordinator_RegisterOrganizationAndAgent(t *testing.T) {
	coord := newTestCoordinator(t)
	ctx := context.Background()

	org, err := coord.RegisterOrganization(ctx, "acme", "Acme Corp")
	require.NoError(t, err)

	agent, err := coord.RegisterAgent(ctx, "acme", "bot-1", "Bot One")
	require.NoError(t, err)
	assert.Equal(t, org.ID, agent.OrganizationID)
}

// TestCoordinator_FacadeEndToEndMessaging exercises the full facade surface
// a host like cmd/coordinatord drives: one-way delivery through the
// messenger, then a meeting lifecycle through the meeting manager, all via
// Coordinator's pass-through methods rather than reaching into subsystems
// directly.
func TestCoordinator_FacadeEndToEndMessaging(t *testing.T) {
	coord := newTestCoordinator(t)
	ctx := context.Background()

	coord.RegisterHandler(handler.KindOneWay, func(ctx context.Context, msg any, mctx handler.Context) (any, error) {
		return nil, nil
	})

	_, err := coord.RegisterOrganization(ctx, "facade-org", "Facade Org")
	require.NoError(t, err)
	_, err = coord.RegisterAgent(ctx, "facade-org", "sender", "Sender")
	require.NoError(t, err)
	_, err = coord.RegisterAgent(ctx, "facade-org", "recipient", "Recipient")
	require.NoError(t, err)

	ids, err := coord.SendOneWay(ctx, "sender", []string{"recipient"}, map[string]any{"text": "hi"}, nil)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	_, err = coord.RegisterAgent(ctx, "facade-org", "host", "Host")
	require.NoError(t, err)
	mtg, err := coord.CreateMeeting(ctx, "host", []string{"recipient"}, nil)
	require.NoError(t, err)

	require.NoError(t, coord.AttendMeeting(ctx, "recipient", mtg.ID))
	require.NoError(t, coord.StartMeeting(ctx, "host", mtg.ID))

	got, err := coord.GetMeeting(ctx, mtg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentSpeakerID)

	participants, err := coord.ListParticipants(ctx, mtg.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 1)

	require.NoError(t, coord.EndMeeting(ctx, "host", mtg.ID))
}

func TestCoordinator_Shutdown_ReturnsPromptly(t *testing.T) {
	client := testdb.NewClient(t)
	cfg := &config.Config{
		Conversation: config.DefaultConversationConfig(),
		Handler:      config.DefaultHandlerConfig(),
		Meeting:      config.DefaultMeetingConfig(),
	}
	coord := newFromClient(client, cfg)

	done := make(chan struct{})
	go func() {
		coord.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return in time")
	}
}
