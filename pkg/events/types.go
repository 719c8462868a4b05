// Package events is the coordinator's in-process meeting event bus
// (spec.md §4.3): a typed tagged-union event fanned out concurrently to
// subscribers, with per-subscriber failure isolation so one slow or
// panicking subscriber can never block its peers or the producer.
//
// The bus itself never persists events — the meeting manager writes the
// corresponding MeetingEvent row via pkg/store in the same critical section
// that calls Emit, so the audit log and the live fan-out stay consistent
// without the bus needing to know about storage.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies a meeting lifecycle event (spec.md §4.3).
type Type string

const (
	MeetingStarted          Type = "MEETING_STARTED"
	MeetingEnded            Type = "MEETING_ENDED"
	TurnChanged             Type = "TURN_CHANGED"
	ParticipantJoined       Type = "PARTICIPANT_JOINED"
	ParticipantLeft         Type = "PARTICIPANT_LEFT"
	TimeoutOccurred         Type = "TIMEOUT_OCCURRED"
	MessagePosted           Type = "MESSAGE_POSTED"
	ParticipantStatusChanged Type = "PARTICIPANT_STATUS_CHANGED"
	ErrorOccurred           Type = "ERROR_OCCURRED"
)

// Event is the envelope every subscriber receives (spec.md §6 "Event
// subscription"). Data carries one of the typed payloads below depending
// on Type, so subscribers can pattern-match the shape without reflection.
type Event struct {
	MeetingID uuid.UUID
	Type      Type
	Data      any
	Timestamp time.Time
}

// MeetingStartedData accompanies MeetingStarted.
type MeetingStartedData struct {
	HostID          uuid.UUID
	FirstSpeakerID  uuid.UUID
}

// MeetingEndedData accompanies MeetingEnded.
type MeetingEndedData struct {
	EndedBy uuid.UUID
}

// TurnChangedData accompanies TurnChanged.
type TurnChangedData struct {
	PreviousSpeakerID *uuid.UUID
	CurrentSpeakerID  *uuid.UUID
	Reason            string // "spoke", "left", "timeout"
}

// ParticipantJoinedData accompanies ParticipantJoined.
type ParticipantJoinedData struct {
	AgentID uuid.UUID
}

// ParticipantLeftData accompanies ParticipantLeft.
type ParticipantLeftData struct {
	AgentID uuid.UUID
}

// TimeoutOccurredData accompanies TimeoutOccurred.
type TimeoutOccurredData struct {
	TimedOutAgentID uuid.UUID
	NextSpeakerID   *uuid.UUID
}

// MessagePostedData accompanies MessagePosted.
type MessagePostedData struct {
	MessageID uuid.UUID
	SenderID  *uuid.UUID
}

// ParticipantStatusChangedData accompanies ParticipantStatusChanged.
type ParticipantStatusChangedData struct {
	AgentID   uuid.UUID
	OldStatus string
	NewStatus string
}

// ErrorOccurredData accompanies ErrorOccurred, emitted by the meeting
// manager or turn-timeout supervisor when a background operation fails in
// a way a subscriber might care about (spec.md §7: background tasks never
// propagate errors to foreground callers, so this is the only channel).
type ErrorOccurredData struct {
	Err error
}
