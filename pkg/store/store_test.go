package store_test

import (
	"context"
	"testing"

	"github.com/agentmesh/coordinator/internal/testdb"
	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	client := testdb.NewClient(t)
	return store.New(client.Pool)
}

func TestOrganizationAndAgent_CreateAndLookup(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	org, err := s.CreateOrganization(ctx, "org-1", "Org One")
	require.NoError(t, err)
	assert.Equal(t, "org-1", org.ExternalID)

	got, err := s.GetOrganizationByExternalID(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, org.ID, got.ID)

	agent, err := s.CreateAgent(ctx, "agent-1", "Agent One", org.ID)
	require.NoError(t, err)

	gotAgent, err := s.GetAgentByExternalID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, agent.ID, gotAgent.ID)
	assert.Equal(t, org.ID, gotAgent.OrganizationID)
}

func TestGetOrganizationByExternalID_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetOrganizationByExternalID(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, errs.ErrOrganizationNotFound)
}

func TestSession_CanonicalPairIsOrderIndependent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	org, err := s.CreateOrganization(ctx, "org-session", "Org")
	require.NoError(t, err)
	a, err := s.CreateAgent(ctx, "agent-a", "A", org.ID)
	require.NoError(t, err)
	b, err := s.CreateAgent(ctx, "agent-b", "B", org.ID)
	require.NoError(t, err)

	created, err := s.CreateSession(ctx, a.ID, b.ID)
	require.NoError(t, err)

	viaForward, err := s.GetActiveSession(ctx, a.ID, b.ID)
	require.NoError(t, err)
	viaReverse, err := s.GetActiveSession(ctx, b.ID, a.ID)
	require.NoError(t, err)

	assert.Equal(t, created.ID, viaForward.ID)
	assert.Equal(t, created.ID, viaReverse.ID)
}

func TestSession_LockRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	org, err := s.CreateOrganization(ctx, "org-lock", "Org")
	require.NoError(t, err)
	a, err := s.CreateAgent(ctx, "agent-lock-a", "A", org.ID)
	require.NoError(t, err)
	b, err := s.CreateAgent(ctx, "agent-lock-b", "B", org.ID)
	require.NoError(t, err)

	sess, err := s.CreateSession(ctx, a.ID, b.ID)
	require.NoError(t, err)

	locked, err := s.IsAgentLocked(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, s.SetSessionLocked(ctx, sess.ID, a.ID))
	locked, err = s.IsAgentLocked(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, s.ClearSessionLocked(ctx, sess.ID))
	locked, err = s.IsAgentLocked(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestMeeting_CreateStartAndParticipants(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	org, err := s.CreateOrganization(ctx, "org-meeting", "Org")
	require.NoError(t, err)
	host, err := s.CreateAgent(ctx, "host", "Host", org.ID)
	require.NoError(t, err)
	participant, err := s.CreateAgent(ctx, "participant", "Participant", org.ID)
	require.NoError(t, err)

	meeting, err := s.CreateMeeting(ctx, host.ID, nil)
	require.NoError(t, err)

	participants, err := s.CreateParticipants(ctx, meeting.ID, []uuid.UUID{host.ID, participant.ID})
	require.NoError(t, err)
	assert.Len(t, participants, 2)

	require.NoError(t, s.StartMeeting(ctx, meeting.ID, host.ID))

	got, err := s.GetMeeting(ctx, meeting.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentSpeakerID)
	assert.Equal(t, host.ID, *got.CurrentSpeakerID)

	listed, err := s.ListParticipants(ctx, meeting.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}
