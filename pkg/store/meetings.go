package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateMeeting inserts a Meeting in CREATED status (spec.md §4.7 create_meeting).
func (s *Store) CreateMeeting(ctx context.Context, hostID uuid.UUID, turnDuration *time.Duration) (*models.Meeting, error) {
	m := &models.Meeting{ID: uuid.New(), HostID: hostID, Status: models.MeetingCreated, TurnDuration: turnDuration}
	var turnSeconds *int
	if turnDuration != nil {
		secs := int(turnDuration.Seconds())
		turnSeconds = &secs
	}
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO meetings (id, host_id, status, turn_duration_secs)
		 VALUES ($1, $2, 'CREATED', $3)
		 RETURNING created_at`,
		m.ID, m.HostID, turnSeconds)
	if err := row.Scan(&m.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: create meeting: %v", errs.ErrPersistence, err)
	}
	return m, nil
}

// GetMeeting loads a meeting by id.
func (s *Store) GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	m := &models.Meeting{}
	var turnSeconds *int
	row := s.Pool.QueryRow(ctx,
		`SELECT id, host_id, status, current_speaker_id, turn_duration_secs, turn_started_at,
		        created_at, started_at, ended_at
		 FROM meetings WHERE id = $1`, id)
	err := row.Scan(&m.ID, &m.HostID, &m.Status, &m.CurrentSpeakerID, &turnSeconds, &m.TurnStartedAt,
		&m.CreatedAt, &m.StartedAt, &m.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrMeetingNotFound
		}
		return nil, fmt.Errorf("%w: get meeting: %v", errs.ErrPersistence, err)
	}
	if turnSeconds != nil {
		d := time.Duration(*turnSeconds) * time.Second
		m.TurnDuration = &d
	}
	return m, nil
}

// StartMeeting transitions CREATED→ACTIVE and sets the first speaker
// (spec.md §4.7 start_meeting). Must be called with the per-meeting
// advisory lock held.
func (s *Store) StartMeeting(ctx context.Context, meetingID, speakerID uuid.UUID) error {
	now := time.Now()
	tag, err := s.Pool.Exec(ctx,
		`UPDATE meetings SET status = 'ACTIVE', started_at = $2, current_speaker_id = $3, turn_started_at = $2
		 WHERE id = $1 AND status = 'CREATED'`, meetingID, now, speakerID)
	if err != nil {
		return fmt.Errorf("%w: start meeting: %v", errs.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrMeetingState
	}
	return nil
}

// AdvanceSpeaker updates current_speaker_id and resets turn_started_at, used
// both by speak() and by the turn-timeout supervisor (spec.md §4.7 step 5,
// §4.8 step 3). nextSpeaker may be nil when no ATTENDING participant
// remains (spec.md §4.7 leave_meeting).
func (s *Store) AdvanceSpeaker(ctx context.Context, meetingID uuid.UUID, nextSpeaker *uuid.UUID) error {
	var turnStartedAt *time.Time
	if nextSpeaker != nil {
		now := time.Now()
		turnStartedAt = &now
	}
	_, err := s.Pool.Exec(ctx,
		`UPDATE meetings SET current_speaker_id = $2, turn_started_at = $3 WHERE id = $1`,
		meetingID, nextSpeaker, turnStartedAt)
	if err != nil {
		return fmt.Errorf("%w: advance speaker: %v", errs.ErrPersistence, err)
	}
	return nil
}

// EndMeeting transitions ACTIVE/CREATED→ENDED. Idempotent against a second
// call, which returns errs.ErrMeetingState (spec.md §4.7 end_meeting, §8).
func (s *Store) EndMeeting(ctx context.Context, meetingID uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE meetings SET status = 'ENDED', ended_at = $2, current_speaker_id = NULL, turn_started_at = NULL
		 WHERE id = $1 AND status <> 'ENDED'`, meetingID, time.Now())
	if err != nil {
		return fmt.Errorf("%w: end meeting: %v", errs.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrMeetingState
	}
	return nil
}
