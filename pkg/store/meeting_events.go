package store

import (
	"context"
	"fmt"

	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/models"
	"github.com/google/uuid"
)

// InsertMeetingEvent appends an audit row for a meeting lifecycle change,
// written alongside the corresponding state change in the same critical
// section (spec.md §3 MeetingEvent, §4.3).
func (s *Store) InsertMeetingEvent(ctx context.Context, meetingID uuid.UUID, eventType string, agentID *uuid.UUID, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO meeting_events (meeting_id, event_type, agent_id, data)
		 VALUES ($1, $2, $3, $4)`, meetingID, eventType, agentID, data)
	if err != nil {
		return fmt.Errorf("%w: insert meeting event: %v", errs.ErrPersistence, err)
	}
	return nil
}

// ListMeetingEvents returns every event row for a meeting, oldest first —
// the read side for analytics readers; nothing in this module calls it.
func (s *Store) ListMeetingEvents(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingEvent, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, meeting_id, event_type, agent_id, data, created_at
		 FROM meeting_events WHERE meeting_id = $1 ORDER BY id ASC`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("%w: list meeting events: %v", errs.ErrPersistence, err)
	}
	defer rows.Close()

	var out []models.MeetingEvent
	for rows.Next() {
		var e models.MeetingEvent
		if err := rows.Scan(&e.ID, &e.MeetingID, &e.EventType, &e.AgentID, &e.Data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan meeting event: %v", errs.ErrPersistence, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list meeting events: %v", errs.ErrPersistence, err)
	}
	return out, nil
}
