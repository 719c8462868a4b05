package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/models"
	"github.com/google/uuid"
)

// CreateParticipants inserts one MeetingParticipant per agent with dense
// join_order starting at 0 and status INVITED (spec.md §4.7 create_meeting).
func (s *Store) CreateParticipants(ctx context.Context, meetingID uuid.UUID, agentIDs []uuid.UUID) ([]models.MeetingParticipant, error) {
	participants := make([]models.MeetingParticipant, 0, len(agentIDs))
	for i, agentID := range agentIDs {
		p := models.MeetingParticipant{
			ID: uuid.New(), MeetingID: meetingID, AgentID: agentID,
			Status: models.ParticipantInvited, JoinOrder: i,
		}
		_, err := s.Pool.Exec(ctx,
			`INSERT INTO meeting_participants (id, meeting_id, agent_id, status, join_order)
			 VALUES ($1, $2, $3, 'INVITED', $4)`,
			p.ID, p.MeetingID, p.AgentID, p.JoinOrder)
		if err != nil {
			return nil, fmt.Errorf("%w: create participant: %v", errs.ErrPersistence, err)
		}
		participants = append(participants, p)
	}
	return participants, nil
}

// ListParticipants returns every participant of a meeting ordered by join_order.
func (s *Store) ListParticipants(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingParticipant, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, meeting_id, agent_id, status, join_order, is_locked, joined_at, left_at
		 FROM meeting_participants WHERE meeting_id = $1 ORDER BY join_order`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("%w: list participants: %v", errs.ErrPersistence, err)
	}
	defer rows.Close()

	var out []models.MeetingParticipant
	for rows.Next() {
		var p models.MeetingParticipant
		if err := rows.Scan(&p.ID, &p.MeetingID, &p.AgentID, &p.Status, &p.JoinOrder, &p.IsLocked, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, fmt.Errorf("%w: scan participant: %v", errs.ErrPersistence, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list participants: %v", errs.ErrPersistence, err)
	}
	return out, nil
}

// GetParticipant returns a single agent's participant record in a meeting.
func (s *Store) GetParticipant(ctx context.Context, meetingID, agentID uuid.UUID) (*models.MeetingParticipant, error) {
	p := &models.MeetingParticipant{}
	row := s.Pool.QueryRow(ctx,
		`SELECT id, meeting_id, agent_id, status, join_order, is_locked, joined_at, left_at
		 FROM meeting_participants WHERE meeting_id = $1 AND agent_id = $2`, meetingID, agentID)
	if err := row.Scan(&p.ID, &p.MeetingID, &p.AgentID, &p.Status, &p.JoinOrder, &p.IsLocked, &p.JoinedAt, &p.LeftAt); err != nil {
		return nil, fmt.Errorf("%w: get participant: %v", errs.ErrMeetingNotFound, err)
	}
	return p, nil
}

// SetParticipantStatus updates a participant's status, optionally stamping
// joined_at/left_at. Pass nil to leave the corresponding column untouched.
func (s *Store) SetParticipantStatus(ctx context.Context, participantID uuid.UUID, status models.ParticipantStatus, joinedAt, leftAt *time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE meeting_participants SET status = $2,
		     joined_at = COALESCE($3, joined_at),
		     left_at = COALESCE($4, left_at)
		 WHERE id = $1`, participantID, status, joinedAt, leftAt)
	if err != nil {
		return fmt.Errorf("%w: set participant status: %v", errs.ErrPersistence, err)
	}
	return nil
}
