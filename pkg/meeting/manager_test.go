package meeting_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentmesh/coordinator/internal/testdb"
	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/events"
	"github.com/agentmesh/coordinator/pkg/handler"
	"github.com/agentmesh/coordinator/pkg/meeting"
	"github.com/agentmesh/coordinator/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*meeting.Manager, *store.Store) {
	t.Helper()
	client := testdb.NewClient(t)
	s := store.New(client.Pool)
	h := handler.NewRegistry(time.Second, time.Second, nil)
	bus := events.NewBus(nil)
	m := meeting.New(client.Pool, s, h, bus, nil, nil, time.Second, 10*time.Second, 10)
	t.Cleanup(m.Shutdown)
	return m, s
}

func mustCreateAgent(t *testing.T, s *store.Store, externalID string) {
	t.Helper()
	org, err := s.CreateOrganization(context.Background(), externalID+"-org", externalID+" org")
	require.NoError(t, err)
	_, err = s.CreateAgent(context.Background(), externalID, externalID, org.ID)
	require.NoError(t, err)
}

func TestMeetingLifecycle_CreateAttendStartSpeakEnd(t *testing.T) {
	m, s := newManager(t)
	mustCreateAgent(t, s, "host")
	mustCreateAgent(t, s, "p1")
	mustCreateAgent(t, s, "p2")

	mtg, err := m.CreateMeeting(context.Background(), "host", []string{"p1", "p2"}, nil)
	require.NoError(t, err)

	require.NoError(t, m.AttendMeeting(context.Background(), "p1", mtg.ID))
	require.NoError(t, m.AttendMeeting(context.Background(), "p2", mtg.ID))

	require.NoError(t, m.StartMeeting(context.Background(), "host", mtg.ID))

	participants, err := s.ListParticipants(context.Background(), mtg.ID)
	require.NoError(t, err)

	got, err := s.GetMeeting(context.Background(), mtg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentSpeakerID)

	var speakerExt string
	for _, p := range participants {
		if p.AgentID == *got.CurrentSpeakerID {
			agent, err := s.GetAgentByID(context.Background(), p.AgentID)
			require.NoError(t, err)
			speakerExt = agent.ExternalID
		}
	}
	require.NotEmpty(t, speakerExt)

	msgID, buffered, err := m.Speak(context.Background(), speakerExt, mtg.ID, map[string]any{"text": "hello all"}, nil, false)
	require.NoError(t, err)
	assert.NotEqual(t, msgID.String(), "")
	assert.Empty(t, buffered)

	require.NoError(t, m.EndMeeting(context.Background(), "host", mtg.ID))

	ended, err := s.GetMeeting(context.Background(), mtg.ID)
	require.NoError(t, err)
	assert.Equal(t, "ENDED", string(ended.Status))
}

func TestCreateMeeting_RejectsHostAsParticipant(t *testing.T) {
	m, s := newManager(t)
	mustCreateAgent(t, s, "host2")

	_, err := m.CreateMeeting(context.Background(), "host2", []string{"host2"}, nil)
	var valErr *errs.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestCreateMeeting_RejectsEmptyParticipants(t *testing.T) {
	m, s := newManager(t)
	mustCreateAgent(t, s, "host3")

	_, err := m.CreateMeeting(context.Background(), "host3", nil, nil)
	assert.Error(t, err)
}

func TestStartMeeting_RejectsNonHost(t *testing.T) {
	m, s := newManager(t)
	mustCreateAgent(t, s, "host4")
	mustCreateAgent(t, s, "p4")
	mustCreateAgent(t, s, "impostor")

	mtg, err := m.CreateMeeting(context.Background(), "host4", []string{"p4"}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AttendMeeting(context.Background(), "p4", mtg.ID))

	err = m.StartMeeting(context.Background(), "impostor", mtg.ID)
	assert.ErrorIs(t, err, errs.ErrMeetingPermissionDenied)
}

func TestStartMeeting_RejectsWhenParticipantNotAttending(t *testing.T) {
	m, s := newManager(t)
	mustCreateAgent(t, s, "host5")
	mustCreateAgent(t, s, "p5")

	mtg, err := m.CreateMeeting(context.Background(), "host5", []string{"p5"}, nil)
	require.NoError(t, err)
	// p5 never attends.

	err = m.StartMeeting(context.Background(), "host5", mtg.ID)
	assert.ErrorIs(t, err, errs.ErrMeetingState)
}

func TestSpeak_RejectsOutOfTurnCaller(t *testing.T) {
	m, s := newManager(t)
	mustCreateAgent(t, s, "host6")
	mustCreateAgent(t, s, "p6a")
	mustCreateAgent(t, s, "p6b")

	mtg, err := m.CreateMeeting(context.Background(), "host6", []string{"p6a", "p6b"}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AttendMeeting(context.Background(), "p6a", mtg.ID))
	require.NoError(t, m.AttendMeeting(context.Background(), "p6b", mtg.ID))
	require.NoError(t, m.StartMeeting(context.Background(), "host6", mtg.ID))

	got, err := s.GetMeeting(context.Background(), mtg.ID)
	require.NoError(t, err)

	outOfTurnExt := "p6a"
	if got.CurrentSpeakerID != nil {
		a, err := s.GetAgentByExternalID(context.Background(), "p6a")
		require.NoError(t, err)
		if a.ID == *got.CurrentSpeakerID {
			outOfTurnExt = "p6b"
		}
	}

	_, _, err = m.Speak(context.Background(), outOfTurnExt, mtg.ID, "hi", nil, false)
	assert.ErrorIs(t, err, errs.ErrNotYourTurn)
}

func TestLeaveMeeting_HostCannotLeave(t *testing.T) {
	m, s := newManager(t)
	mustCreateAgent(t, s, "host7")
	mustCreateAgent(t, s, "p7")

	mtg, err := m.CreateMeeting(context.Background(), "host7", []string{"p7"}, nil)
	require.NoError(t, err)

	err = m.LeaveMeeting(context.Background(), "host7", mtg.ID)
	assert.ErrorIs(t, err, errs.ErrMeetingPermissionDenied)
}

func TestEndMeeting_RejectsNonHost(t *testing.T) {
	m, s := newManager(t)
	mustCreateAgent(t, s, "host8")
	mustCreateAgent(t, s, "impostor8")

	mtg, err := m.CreateMeeting(context.Background(), "host8", []string{"impostor8"}, nil)
	require.NoError(t, err)

	err = m.EndMeeting(context.Background(), "impostor8", mtg.ID)
	assert.ErrorIs(t, err, errs.ErrMeetingPermissionDenied)
}
