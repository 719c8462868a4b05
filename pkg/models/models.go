// Package models defines the coordinator's persisted entities: the shapes
// that pkg/store reads and writes, independent of how they're queried.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WrapDocument normalizes an opaque message value into the key/value
// document Message.Content and Message.Metadata store (spec.md §4.6
// "Serialization of message bodies"). A value that's already a document is
// stored as-is so it round-trips bit-identically; any other value is
// wrapped so the column always holds an object.
func WrapDocument(msg any) map[string]any {
	if doc, ok := msg.(map[string]any); ok {
		return doc
	}
	return map[string]any{"data": fmt.Sprintf("%v", msg)}
}

// Organization is the parent of a set of agents. Deleting one cascades to
// its agents and, transitively, everything those agents own.
type Organization struct {
	ID         uuid.UUID
	ExternalID string
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Agent is a named messaging endpoint belonging to an organization.
type Agent struct {
	ID             uuid.UUID
	ExternalID     string
	OrganizationID uuid.UUID
	Name           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SessionStatus is the lifecycle state of a pairwise Session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "ACTIVE"
	SessionWaiting SessionStatus = "WAITING"
	SessionEnded   SessionStatus = "ENDED"
)

// Session is a pairwise conversation container between two agents, stored
// with the pair in canonical (sorted) order so (AgentAID, AgentBID)
// uniquely identifies the active session between any two agents.
type Session struct {
	ID            uuid.UUID
	AgentAID      uuid.UUID
	AgentBID      uuid.UUID
	Status        SessionStatus
	LockedAgentID *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
	EndedAt       *time.Time
}

// MeetingStatus is the lifecycle state of a Meeting.
type MeetingStatus string

const (
	MeetingCreated MeetingStatus = "CREATED"
	MeetingReady   MeetingStatus = "READY" // reserved, never set by this implementation
	MeetingActive  MeetingStatus = "ACTIVE"
	MeetingEnded   MeetingStatus = "ENDED"
)

// Meeting is an N-party turn-based conversation with a host.
type Meeting struct {
	ID                uuid.UUID
	HostID            uuid.UUID
	Status            MeetingStatus
	CurrentSpeakerID  *uuid.UUID
	TurnDuration      *time.Duration
	TurnStartedAt     *time.Time
	CreatedAt         time.Time
	StartedAt         *time.Time
	EndedAt           *time.Time
}

// ParticipantStatus is an agent's membership state within a meeting.
type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "INVITED"
	ParticipantAttending ParticipantStatus = "ATTENDING"
	ParticipantWaiting  ParticipantStatus = "WAITING"
	ParticipantSpeaking ParticipantStatus = "SPEAKING"
	ParticipantLeft     ParticipantStatus = "LEFT"
)

// MeetingParticipant is an agent's membership record within a meeting.
type MeetingParticipant struct {
	ID        uuid.UUID
	MeetingID uuid.UUID
	AgentID   uuid.UUID
	Status    ParticipantStatus
	JoinOrder int
	IsLocked  bool
	JoinedAt  *time.Time
	LeftAt    *time.Time
}

// MessageType classifies a Message's origin and delivery semantics.
type MessageType string

const (
	MessageUserDefined MessageType = "USER_DEFINED"
	MessageSystem      MessageType = "SYSTEM"
	MessageTimeout     MessageType = "TIMEOUT"
	MessageEnding      MessageType = "ENDING"
)

// Message is the unit of delivery for all three messaging patterns. Exactly
// one of {RecipientID set with SessionID/MeetingID nil (one-way)},
// {SessionID set (conversation)}, {MeetingID set, RecipientID nil (meeting)}
// holds for any persisted row.
type Message struct {
	ID          uuid.UUID
	SenderID    *uuid.UUID // nil only for system-generated TIMEOUT messages
	RecipientID *uuid.UUID
	SessionID   *uuid.UUID
	MeetingID   *uuid.UUID
	Type        MessageType
	Content     map[string]any
	Metadata    map[string]any
	ReadAt      *time.Time
	CreatedAt   time.Time
}

// MeetingEvent is an append-only audit row written alongside the state
// change it describes, consumed by out-of-scope analytics readers.
type MeetingEvent struct {
	ID        int64
	MeetingID uuid.UUID
	EventType string
	AgentID   *uuid.UUID
	Data      map[string]any
	CreatedAt time.Time
}
