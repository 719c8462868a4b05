package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentmesh/coordinator/pkg/errs"
	"github.com/agentmesh/coordinator/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateAgent inserts a new agent under an organization.
func (s *Store) CreateAgent(ctx context.Context, externalID, name string, orgID uuid.UUID) (*models.Agent, error) {
	agent := &models.Agent{ID: uuid.New(), ExternalID: externalID, Name: name, OrganizationID: orgID}
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO agents (id, external_id, organization_id, name)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		agent.ID, agent.ExternalID, agent.OrganizationID, agent.Name)
	if err := row.Scan(&agent.CreatedAt, &agent.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%w: insert agent: %v", errs.ErrPersistence, err)
	}
	return agent, nil
}

// GetAgentByExternalID looks up an agent by its external id.
func (s *Store) GetAgentByExternalID(ctx context.Context, externalID string) (*models.Agent, error) {
	return s.scanAgent(ctx,
		`SELECT id, external_id, organization_id, name, created_at, updated_at
		 FROM agents WHERE external_id = $1`, externalID)
}

// GetAgentByID looks up an agent by its internal id.
func (s *Store) GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return s.scanAgent(ctx,
		`SELECT id, external_id, organization_id, name, created_at, updated_at
		 FROM agents WHERE id = $1`, id)
}

func (s *Store) scanAgent(ctx context.Context, query string, arg any) (*models.Agent, error) {
	agent := &models.Agent{}
	row := s.Pool.QueryRow(ctx, query, arg)
	err := row.Scan(&agent.ID, &agent.ExternalID, &agent.OrganizationID, &agent.Name, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrAgentNotFound
		}
		return nil, fmt.Errorf("%w: get agent: %v", errs.ErrPersistence, err)
	}
	return agent, nil
}
