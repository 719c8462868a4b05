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

// InsertOneWayMessage persists a one-way message: recipient set, session and
// meeting null (spec.md §3 Message, §4.5 step 2).
func (s *Store) InsertOneWayMessage(ctx context.Context, senderID, recipientID uuid.UUID, content, metadata map[string]any) (*models.Message, error) {
	return s.insertMessage(ctx, &senderID, &recipientID, nil, nil, models.MessageUserDefined, content, metadata)
}

// InsertSessionMessage persists a message under a conversation session
// (spec.md §4.6). senderID is nil only for system-generated TIMEOUT-style
// rows, which conversations don't produce, but the signature stays uniform
// with InsertMeetingMessage.
func (s *Store) InsertSessionMessage(ctx context.Context, sessionID uuid.UUID, senderID *uuid.UUID, msgType models.MessageType, content, metadata map[string]any) (*models.Message, error) {
	return s.insertMessage(ctx, senderID, nil, &sessionID, nil, msgType, content, metadata)
}

// InsertMeetingMessage persists a message under a meeting, recipient null
// (spec.md §3 Message, §4.7 speak). senderID is nil for the supervisor's
// synthetic TIMEOUT message (spec.md §4.8 step 3).
func (s *Store) InsertMeetingMessage(ctx context.Context, meetingID uuid.UUID, senderID *uuid.UUID, msgType models.MessageType, content, metadata map[string]any) (*models.Message, error) {
	return s.insertMessage(ctx, senderID, nil, nil, &meetingID, msgType, content, metadata)
}

func (s *Store) insertMessage(ctx context.Context, senderID, recipientID, sessionID, meetingID *uuid.UUID, msgType models.MessageType, content, metadata map[string]any) (*models.Message, error) {
	if content == nil {
		content = map[string]any{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	m := &models.Message{
		ID: uuid.New(), SenderID: senderID, RecipientID: recipientID,
		SessionID: sessionID, MeetingID: meetingID, Type: msgType,
		Content: content, Metadata: metadata,
	}
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, session_id, meeting_id, message_type, content, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		m.ID, m.SenderID, m.RecipientID, m.SessionID, m.MeetingID, m.Type, m.Content, m.Metadata)
	if err := row.Scan(&m.CreatedAt); err != nil {
		return nil, fmt.Errorf("%w: insert message: %v", errs.ErrPersistence, err)
	}
	return m, nil
}

// GetUnreadDirectMessage returns the oldest unread message sent from
// senderID within a session (session messages carry no recipient_id — the
// session itself is the pairwise addressing), used by
// get_or_wait_for_response and the poll step of send_and_wait
// (spec.md §4.6 steps 1, 6).
func (s *Store) GetUnreadDirectMessage(ctx context.Context, sessionID, senderID uuid.UUID) (*models.Message, error) {
	m := &models.Message{}
	row := s.Pool.QueryRow(ctx,
		`SELECT id, sender_id, recipient_id, session_id, meeting_id, message_type, content, metadata, read_at, created_at
		 FROM messages
		 WHERE session_id = $1 AND sender_id = $2 AND read_at IS NULL
		 ORDER BY created_at ASC LIMIT 1`, sessionID, senderID)
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.SessionID, &m.MeetingID, &m.Type, &m.Content, &m.Metadata, &m.ReadAt, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get unread direct message: %v", errs.ErrPersistence, err)
	}
	return m, nil
}

// MarkMessageRead stamps read_at = now() on a message, idempotently: a
// second call on an already-read message is a no-op (spec.md §8 round-trip).
func (s *Store) MarkMessageRead(ctx context.Context, messageID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE messages SET read_at = $2 WHERE id = $1 AND read_at IS NULL`, messageID, time.Now())
	if err != nil {
		return fmt.Errorf("%w: mark message read: %v", errs.ErrPersistence, err)
	}
	return nil
}

// ListMeetingMessagesSince returns meeting messages posted at or after a
// timestamp, in chronological order — used to answer speak(wait_for_turn)'s
// "all messages since I parked" contract (spec.md §4.7, §9 Open question).
func (s *Store) ListMeetingMessagesSince(ctx context.Context, meetingID uuid.UUID, since time.Time) ([]models.Message, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, sender_id, recipient_id, session_id, meeting_id, message_type, content, metadata, read_at, created_at
		 FROM messages WHERE meeting_id = $1 AND created_at >= $2 ORDER BY created_at ASC`, meetingID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: list meeting messages: %v", errs.ErrPersistence, err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.SessionID, &m.MeetingID, &m.Type, &m.Content, &m.Metadata, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan meeting message: %v", errs.ErrPersistence, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list meeting messages: %v", errs.ErrPersistence, err)
	}
	return out, nil
}
