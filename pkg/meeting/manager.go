// Package meeting implements the N-party turn-based meeting lifecycle
// (spec.md §4.7): CREATED→ACTIVE→ENDED, attendance, start preconditions,
// speak guarded by the per-meeting advisory lock, round-robin turn
// advancement, host-only commands, and participant departure. The
// turn-timeout supervisor (§4.8) lives alongside it in this package since
// the two are tightly coupled — every state transition the supervisor can
// make is also one speak/leave/end can make, and both must serialize
// through the same per-meeting lock.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/events"
	"github.com/agentmesh/coordinator/pkg/handler"
	"github.com/agentmesh/coordinator/pkg/lock"
	"github.com/agentmesh/coordinator/pkg/metrics"
	"github.com/agentmesh/coordinator/pkg/models"
	"github.com/agentmesh/coordinator/pkg/store"
	"github.com/agentmesh/coordinator/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Manager is the meeting subsystem.
type Manager struct {
	pool     *pgxpool.Pool
	store    *store.Store
	handlers *handler.Registry
	bus      *events.Bus
	turns    *turnBroadcast
	sup      *supervisor
	metrics  *metrics.Registry
	tracer   telemetry.Tracer

	defaultTurnDuration time.Duration
	maxTurnDuration     time.Duration
	maxParticipants     int
}

// New builds a Manager. The turn-timeout supervisor is wired internally so
// callers never arm or cancel timers directly. m and t may be nil.
func New(pool *pgxpool.Pool, s *store.Store, h *handler.Registry, bus *events.Bus, m *metrics.Registry, t telemetry.Tracer, defaultTurnDuration, maxTurnDuration time.Duration, maxParticipants int) *Manager {
	if t == nil {
		t = telemetry.New()
	}
	mgr := &Manager{
		pool: pool, store: s, handlers: h, bus: bus, turns: newTurnBroadcast(), metrics: m, tracer: t,
		defaultTurnDuration: defaultTurnDuration, maxTurnDuration: maxTurnDuration, maxParticipants: maxParticipants,
	}
	mgr.sup = newSupervisor(mgr.onTimerFire)
	return mgr
}

// acquireMeetingLock wraps lock.Acquire with the shared wait/contention
// metrics recorded for every meeting-lock critical section. The returned
// Store is rebound to the pinned connection holding the lock — callers
// must use it, not m.store, for every query made while the lock is held.
func (m *Manager) acquireMeetingLock(ctx context.Context, meetingID uuid.UUID) (*lock.Guard, *store.Store, error) {
	start := time.Now()
	guard, err := lock.Acquire(ctx, m.pool, meetingID)
	if m.metrics != nil {
		m.metrics.RecordLockWait("meeting", time.Since(start))
		if errors.Is(err, errs.ErrLockUnavailable) {
			m.metrics.RecordLockContention("meeting")
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return guard, m.store.WithQueryer(guard.Conn), nil
}

// releaseMeetingLock releases guard and records the hold-time metric.
func (m *Manager) releaseMeetingLock(ctx context.Context, guard *lock.Guard, acquiredAt time.Time) {
	if err := guard.Release(ctx); err != nil {
		slog.Error("failed to release meeting advisory lock", "error", err)
	}
	if m.metrics != nil {
		m.metrics.RecordLockHold("meeting", time.Since(acquiredAt))
	}
}

// Shutdown stops accepting new timer work and awaits outstanding fires.
func (m *Manager) Shutdown() {
	m.sup.Shutdown()
}

func (m *Manager) resolveAgent(ctx context.Context, externalID, field string) (*models.Agent, error) {
	trimmed := strings.TrimSpace(externalID)
	if trimmed == "" {
		return nil, errs.NewValidationError(field, externalID, "must not be empty or whitespace")
	}
	return m.store.GetAgentByExternalID(ctx, trimmed)
}

// CreateMeeting validates and persists a new CREATED meeting with one
// INVITED participant per agent (spec.md §4.7 create_meeting).
func (m *Manager) CreateMeeting(ctx context.Context, hostExt string, participantExts []string, turnDuration *time.Duration) (*models.Meeting, error) {
	host, err := m.resolveAgent(ctx, hostExt, "host_external_id")
	if err != nil {
		return nil, err
	}
	if len(participantExts) == 0 {
		return nil, errs.NewValidationError("participant_external_ids", participantExts, "must not be empty")
	}
	if len(participantExts) > m.maxParticipants {
		return nil, errs.NewValidationError("participant_external_ids", len(participantExts), fmt.Sprintf("must not exceed %d", m.maxParticipants))
	}
	if turnDuration != nil && (*turnDuration <= 0 || *turnDuration > m.maxTurnDuration) {
		return nil, errs.NewValidationError("turn_duration", *turnDuration, fmt.Sprintf("must be in (0, %s]", m.maxTurnDuration))
	}

	seen := make(map[uuid.UUID]bool, len(participantExts))
	agentIDs := make([]uuid.UUID, 0, len(participantExts))
	for _, ext := range participantExts {
		agent, err := m.resolveAgent(ctx, ext, "participant_external_id")
		if err != nil {
			return nil, err
		}
		if agent.ID == host.ID {
			return nil, errs.NewValidationError("participant_external_id", ext, "host must not be listed as a participant")
		}
		if seen[agent.ID] {
			return nil, errs.NewValidationError("participant_external_id", ext, "duplicate participant")
		}
		seen[agent.ID] = true
		agentIDs = append(agentIDs, agent.ID)
	}

	meeting, err := m.store.CreateMeeting(ctx, host.ID, turnDuration)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.CreateParticipants(ctx, meeting.ID, agentIDs); err != nil {
		return nil, err
	}
	return meeting, nil
}

// AttendMeeting marks a participant ATTENDING (spec.md §4.7 attend_meeting).
func (m *Manager) AttendMeeting(ctx context.Context, agentExt string, meetingID uuid.UUID) error {
	agent, err := m.resolveAgent(ctx, agentExt, "agent_external_id")
	if err != nil {
		return err
	}
	meeting, err := m.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.Status == models.MeetingEnded {
		return errs.ErrMeetingState
	}

	participant, err := m.store.GetParticipant(ctx, meetingID, agent.ID)
	if err != nil {
		return err
	}
	if participant.Status != models.ParticipantInvited && participant.Status != models.ParticipantAttending {
		return errs.ErrMeetingState
	}

	now := time.Now()
	if err := m.store.SetParticipantStatus(ctx, participant.ID, models.ParticipantAttending, &now, nil); err != nil {
		return err
	}
	m.emitAndLog(ctx, meetingID, events.ParticipantJoined, &agent.ID, events.ParticipantJoinedData{AgentID: agent.ID})
	return nil
}

// StartMeeting transitions CREATED→ACTIVE, host-only, under the per-meeting
// lock (spec.md §4.7 start_meeting).
func (m *Manager) StartMeeting(ctx context.Context, hostExt string, meetingID uuid.UUID) error {
	host, err := m.resolveAgent(ctx, hostExt, "host_external_id")
	if err != nil {
		return err
	}

	guard, locked, err := m.acquireMeetingLock(ctx, meetingID)
	if err != nil {
		return err
	}
	acquiredAt := time.Now()
	defer m.releaseMeetingLock(ctx, guard, acquiredAt)

	meeting, err := locked.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.HostID != host.ID {
		return errs.ErrMeetingPermissionDenied
	}
	if meeting.Status != models.MeetingCreated {
		return errs.ErrMeetingState
	}

	participants, err := locked.ListParticipants(ctx, meetingID)
	if err != nil {
		return err
	}
	if len(participants) == 0 {
		return errs.ErrMeetingState
	}
	for _, p := range participants {
		if p.Status != models.ParticipantAttending {
			return errs.ErrMeetingState
		}
	}

	speaker := firstSpeaker(participants)
	if speaker == nil {
		return errs.ErrMeetingState
	}
	if err := locked.StartMeeting(ctx, meetingID, *speaker); err != nil {
		return err
	}

	turnDuration := m.defaultTurnDuration
	if meeting.TurnDuration != nil {
		turnDuration = *meeting.TurnDuration
	}
	m.sup.Arm(meetingID, *speaker, turnDuration)

	m.emitAndLogWith(ctx, locked, meetingID, events.MeetingStarted, &host.ID, events.MeetingStartedData{HostID: host.ID, FirstSpeakerID: *speaker})
	m.turns.Broadcast(meetingID)
	return nil
}

// Speak posts a message as the current speaker and advances the turn
// (spec.md §4.7 speak — "the critical path"). When waitForTurn is true and
// it isn't yet the caller's turn, it parks until it is (or the meeting ends)
// instead of rejecting with NotYourTurn, then returns the messages posted
// while parked in chronological order (spec.md §4.7, §9 Open question).
func (m *Manager) Speak(ctx context.Context, agentExt string, meetingID uuid.UUID, msg any, metadata map[string]any, waitForTurn bool) (uuid.UUID, []models.Message, error) {
	agent, err := m.resolveAgent(ctx, agentExt, "agent_external_id")
	if err != nil {
		return uuid.Nil, nil, err
	}

	var buffered []models.Message
	if waitForTurn {
		parkedAt := time.Now()
		for {
			meeting, err := m.store.GetMeeting(ctx, meetingID)
			if err != nil {
				return uuid.Nil, nil, err
			}
			if meeting.Status != models.MeetingActive {
				return uuid.Nil, nil, errs.ErrMeetingNotActive
			}
			if meeting.CurrentSpeakerID != nil && *meeting.CurrentSpeakerID == agent.ID {
				break
			}

			wake := m.turns.Wait(meetingID)
			select {
			case <-wake:
			case <-ctx.Done():
				return uuid.Nil, nil, ctx.Err()
			}
		}
		buffered, err = m.store.ListMeetingMessagesSince(ctx, meetingID, parkedAt)
		if err != nil {
			return uuid.Nil, nil, err
		}
	}

	msgID, err := m.speakOnce(ctx, agent, meetingID, msg, metadata)
	return msgID, buffered, err
}

// speakOnce is the non-parking critical path shared by Speak and the
// eventual post-park attempt: acquire the per-meeting lock, re-read state
// under it (a speak attempt can race with a turn advance), persist,
// advance, re-arm, emit — release the lock on every exit (spec.md §4.7
// speak steps 1-7).
func (m *Manager) speakOnce(ctx context.Context, agent *models.Agent, meetingID uuid.UUID, msg any, metadata map[string]any) (uuid.UUID, error) {
	ctx, span := m.tracer.Start(ctx, telemetry.SpanSpeak)
	defer span.End()

	guard, locked, err := m.acquireMeetingLock(ctx, meetingID)
	if err != nil {
		span.RecordError(err)
		return uuid.Nil, err
	}
	acquiredAt := time.Now()
	defer m.releaseMeetingLock(ctx, guard, acquiredAt)

	meeting, err := locked.GetMeeting(ctx, meetingID)
	if err != nil {
		return uuid.Nil, err
	}
	if meeting.Status != models.MeetingActive {
		return uuid.Nil, errs.ErrMeetingNotActive
	}

	participant, err := locked.GetParticipant(ctx, meetingID, agent.ID)
	if err != nil {
		return uuid.Nil, err
	}
	if participant.Status != models.ParticipantAttending {
		return uuid.Nil, errs.ErrMeetingState
	}
	if meeting.CurrentSpeakerID == nil || *meeting.CurrentSpeakerID != agent.ID {
		return uuid.Nil, errs.ErrNotYourTurn
	}

	content := models.WrapDocument(msg)
	persisted, err := locked.InsertMeetingMessage(ctx, meetingID, &agent.ID, models.MessageUserDefined, content, metadata)
	if err != nil {
		return uuid.Nil, err
	}

	participants, err := locked.ListParticipants(ctx, meetingID)
	if err != nil {
		return uuid.Nil, err
	}
	next := nextSpeaker(participants, agent.ID)
	prev := agent.ID

	if err := locked.AdvanceSpeaker(ctx, meetingID, next); err != nil {
		return uuid.Nil, err
	}

	turnDuration := m.defaultTurnDuration
	if meeting.TurnDuration != nil {
		turnDuration = *meeting.TurnDuration
	}
	if next != nil {
		m.sup.Arm(meetingID, *next, turnDuration)
	} else {
		m.sup.Cancel(meetingID)
	}

	m.emitAndLogWith(ctx, locked, meetingID, events.TurnChanged, &agent.ID, events.TurnChangedData{PreviousSpeakerID: &prev, CurrentSpeakerID: next, Reason: "spoke"})
	m.emitAndLogWith(ctx, locked, meetingID, events.MessagePosted, &agent.ID, events.MessagePostedData{MessageID: persisted.ID, SenderID: &agent.ID})
	m.turns.Broadcast(meetingID)

	return persisted.ID, nil
}

// LeaveMeeting marks a participant LEFT; if the leaver held the current
// turn in an ACTIVE meeting, advances to the first remaining ATTENDING
// participant by join_order (spec.md §4.7 leave_meeting). The host cannot
// leave.
func (m *Manager) LeaveMeeting(ctx context.Context, agentExt string, meetingID uuid.UUID) error {
	agent, err := m.resolveAgent(ctx, agentExt, "agent_external_id")
	if err != nil {
		return err
	}

	guard, locked, err := m.acquireMeetingLock(ctx, meetingID)
	if err != nil {
		return err
	}
	acquiredAt := time.Now()
	defer m.releaseMeetingLock(ctx, guard, acquiredAt)

	meeting, err := locked.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.HostID == agent.ID {
		return errs.ErrMeetingPermissionDenied
	}

	participant, err := locked.GetParticipant(ctx, meetingID, agent.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := locked.SetParticipantStatus(ctx, participant.ID, models.ParticipantLeft, nil, &now); err != nil {
		return err
	}
	m.emitAndLogWith(ctx, locked, meetingID, events.ParticipantLeft, &agent.ID, events.ParticipantLeftData{AgentID: agent.ID})

	wasSpeaker := meeting.Status == models.MeetingActive && meeting.CurrentSpeakerID != nil && *meeting.CurrentSpeakerID == agent.ID
	if !wasSpeaker {
		return nil
	}

	m.sup.Cancel(meetingID)
	participants, err := locked.ListParticipants(ctx, meetingID)
	if err != nil {
		return err
	}
	next := nextSpeaker(participants, agent.ID)
	if err := locked.AdvanceSpeaker(ctx, meetingID, next); err != nil {
		return err
	}

	turnDuration := m.defaultTurnDuration
	if meeting.TurnDuration != nil {
		turnDuration = *meeting.TurnDuration
	}
	if next != nil {
		m.sup.Arm(meetingID, *next, turnDuration)
	}

	m.emitAndLogWith(ctx, locked, meetingID, events.TurnChanged, &agent.ID, events.TurnChangedData{PreviousSpeakerID: &agent.ID, CurrentSpeakerID: next, Reason: "left"})
	m.turns.Broadcast(meetingID)
	return nil
}

// EndMeeting transitions to ENDED, host-only, idempotent against a double
// end (spec.md §4.7 end_meeting).
func (m *Manager) EndMeeting(ctx context.Context, hostExt string, meetingID uuid.UUID) error {
	host, err := m.resolveAgent(ctx, hostExt, "host_external_id")
	if err != nil {
		return err
	}

	guard, locked, err := m.acquireMeetingLock(ctx, meetingID)
	if err != nil {
		return err
	}
	acquiredAt := time.Now()
	defer m.releaseMeetingLock(ctx, guard, acquiredAt)

	meeting, err := locked.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.HostID != host.ID {
		return errs.ErrMeetingPermissionDenied
	}

	m.sup.Cancel(meetingID)
	if err := locked.EndMeeting(ctx, meetingID); err != nil {
		return err
	}
	if _, err := locked.InsertMeetingMessage(ctx, meetingID, &host.ID, models.MessageEnding, map[string]any{"type": "meeting_ended"}, nil); err != nil {
		return err
	}

	m.emitAndLogWith(ctx, locked, meetingID, events.MeetingEnded, &host.ID, events.MeetingEndedData{EndedBy: host.ID})
	m.turns.Broadcast(meetingID)
	return nil
}

// onTimerFire is the turn-timeout supervisor's callback (spec.md §4.8
// on_fire). It re-validates meeting and speaker state before mutating
// anything, since a speak can land between the timer's sleep and its fire.
func (m *Manager) onTimerFire(ctx context.Context, meetingID, expectedSpeaker uuid.UUID) {
	ctx, span := m.tracer.Start(ctx, telemetry.SpanOnFire)
	defer span.End()

	meeting, err := m.store.GetMeeting(ctx, meetingID)
	if err != nil {
		if err != errs.ErrMeetingNotFound {
			m.logFireError(meetingID, err)
		}
		return
	}
	if meeting.Status != models.MeetingActive {
		return
	}
	if meeting.CurrentSpeakerID == nil || *meeting.CurrentSpeakerID != expectedSpeaker {
		return
	}

	guard, locked, err := m.acquireMeetingLock(ctx, meetingID)
	if err != nil {
		// Another operation holds the lock; it will supersede this fire —
		// it either advanced the turn already or is about to.
		return
	}
	acquiredAt := time.Now()
	defer m.releaseMeetingLock(ctx, guard, acquiredAt)

	meeting, err = locked.GetMeeting(ctx, meetingID)
	if err != nil {
		m.logFireError(meetingID, err)
		return
	}
	if meeting.Status != models.MeetingActive || meeting.CurrentSpeakerID == nil || *meeting.CurrentSpeakerID != expectedSpeaker {
		if m.metrics != nil {
			m.metrics.RecordTurnTimeoutFire("stale")
		}
		return
	}

	participants, err := locked.ListParticipants(ctx, meetingID)
	if err != nil {
		m.logFireError(meetingID, err)
		return
	}
	next := nextSpeaker(participants, expectedSpeaker)

	content := map[string]any{"type": "timeout", "timed_out": expectedSpeaker.String()}
	if next != nil {
		content["next"] = next.String()
	}
	if _, err := locked.InsertMeetingMessage(ctx, meetingID, nil, models.MessageTimeout, content, nil); err != nil {
		m.logFireError(meetingID, err)
		return
	}
	if err := locked.AdvanceSpeaker(ctx, meetingID, next); err != nil {
		m.logFireError(meetingID, err)
		return
	}

	turnDuration := m.defaultTurnDuration
	if meeting.TurnDuration != nil {
		turnDuration = *meeting.TurnDuration
	}
	if next != nil {
		m.sup.Arm(meetingID, *next, turnDuration)
	}
	if m.metrics != nil {
		m.metrics.RecordTurnTimeoutFire("advanced")
	}

	m.emitAndLogWith(ctx, locked, meetingID, events.TimeoutOccurred, nil, events.TimeoutOccurredData{TimedOutAgentID: expectedSpeaker, NextSpeakerID: next})
	m.emitAndLogWith(ctx, locked, meetingID, events.TurnChanged, nil, events.TurnChangedData{PreviousSpeakerID: &expectedSpeaker, CurrentSpeakerID: next, Reason: "timeout"})
	m.turns.Broadcast(meetingID)
}

func (m *Manager) logFireError(meetingID uuid.UUID, err error) {
	m.bus.Emit(events.Event{MeetingID: meetingID, Type: events.ErrorOccurred, Data: events.ErrorOccurredData{Err: err}})
}

// emitAndLog writes the MeetingEvent audit row through the pool-backed
// store and fans out the live event — used by callers like AttendMeeting
// that don't hold the meeting lock.
func (m *Manager) emitAndLog(ctx context.Context, meetingID uuid.UUID, t events.Type, agentID *uuid.UUID, data any) {
	m.emitAndLogWith(ctx, m.store, meetingID, t, agentID, data)
}

// emitAndLogWith writes the MeetingEvent audit row via s and fans out the
// live event in the same call, keeping the two consistent (spec.md §4.3:
// "the meeting manager writes the corresponding MeetingEvent row in the
// same critical section"). Callers inside a lock-held critical section
// must pass the connection-pinned store returned by acquireMeetingLock.
func (m *Manager) emitAndLogWith(ctx context.Context, s *store.Store, meetingID uuid.UUID, t events.Type, agentID *uuid.UUID, data any) {
	if err := s.InsertMeetingEvent(ctx, meetingID, string(t), agentID, eventDataToMap(data)); err != nil {
		m.logFireError(meetingID, err)
	}
	m.bus.Emit(events.Event{MeetingID: meetingID, Type: t, Data: data})
}
