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

// CanonicalPair orders two agent ids so a lookup key is order-independent
// (spec.md §3, §4.6 step 1). Sessions are stored with agent_a_id < agent_b_id.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}

// GetActiveSession returns the ACTIVE session between two agents, if any.
// Returns (nil, nil) when no such session exists — absence is not an error
// here, callers that require one create it (spec.md §4.6 step 2).
func (s *Store) GetActiveSession(ctx context.Context, agentA, agentB uuid.UUID) (*models.Session, error) {
	a, b := CanonicalPair(agentA, agentB)
	sess, err := s.scanSession(ctx,
		`SELECT id, agent_a_id, agent_b_id, status, locked_agent_id, created_at, updated_at, ended_at
		 FROM sessions WHERE agent_a_id = $1 AND agent_b_id = $2 AND status = 'ACTIVE'`, a, b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// GetSessionByID loads a session by its internal id.
func (s *Store) GetSessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return s.scanSession(ctx,
		`SELECT id, agent_a_id, agent_b_id, status, locked_agent_id, created_at, updated_at, ended_at
		 FROM sessions WHERE id = $1`, id)
}

func (s *Store) scanSession(ctx context.Context, query string, args ...any) (*models.Session, error) {
	sess := &models.Session{}
	row := s.Pool.QueryRow(ctx, query, args...)
	err := row.Scan(&sess.ID, &sess.AgentAID, &sess.AgentBID, &sess.Status, &sess.LockedAgentID,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("%w: get session: %v", errs.ErrPersistence, err)
	}
	return sess, nil
}

// CreateSession creates a new ACTIVE session for a canonicalized pair.
// Called lazily on first message between a pair (spec.md §3 Session).
func (s *Store) CreateSession(ctx context.Context, agentA, agentB uuid.UUID) (*models.Session, error) {
	a, b := CanonicalPair(agentA, agentB)
	sess := &models.Session{ID: uuid.New(), AgentAID: a, AgentBID: b, Status: models.SessionActive}
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO sessions (id, agent_a_id, agent_b_id, status)
		 VALUES ($1, $2, $3, 'ACTIVE')
		 RETURNING created_at, updated_at`,
		sess.ID, sess.AgentAID, sess.AgentBID)
	if err := row.Scan(&sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%w: create session: %v", errs.ErrPersistence, err)
	}
	return sess, nil
}

// SetSessionLocked sets locked_agent_id, marking the session held for the
// duration of a blocking send_and_wait (spec.md §4.6 step 5).
func (s *Store) SetSessionLocked(ctx context.Context, sessionID, agentID uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE sessions SET locked_agent_id = $2, updated_at = now() WHERE id = $1`,
		sessionID, agentID)
	if err != nil {
		return fmt.Errorf("%w: lock session: %v", errs.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrSessionState
	}
	return nil
}

// ClearSessionLocked clears locked_agent_id. Run unconditionally by the
// acquire_session guard on every exit path (spec.md §4.6 step 6).
func (s *Store) ClearSessionLocked(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE sessions SET locked_agent_id = NULL, updated_at = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: unlock session: %v", errs.ErrPersistence, err)
	}
	return nil
}

// IsAgentLocked reports whether agentID is the locked_agent_id of any
// ACTIVE session — the "not currently locked" predicate used by the
// one-way messenger to decide whether to push a notification
// (spec.md §4.5 step 5, §4.6).
func (s *Store) IsAgentLocked(ctx context.Context, agentID uuid.UUID) (bool, error) {
	var locked bool
	row := s.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE locked_agent_id = $1 AND status = 'ACTIVE')`, agentID)
	if err := row.Scan(&locked); err != nil {
		return false, fmt.Errorf("%w: check agent lock: %v", errs.ErrPersistence, err)
	}
	return locked, nil
}

// EndSession transitions a session to ENDED. Idempotent: a session already
// ENDED returns errs.ErrSessionState without further mutation (spec.md §8).
func (s *Store) EndSession(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE sessions SET status = 'ENDED', ended_at = $2, updated_at = $2
		 WHERE id = $1 AND status <> 'ENDED'`, sessionID, time.Now())
	if err != nil {
		return fmt.Errorf("%w: end session: %v", errs.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrSessionState
	}
	return nil
}
