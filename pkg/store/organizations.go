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

// CreateOrganization inserts a new organization and returns the persisted row.
func (s *Store) CreateOrganization(ctx context.Context, externalID, name string) (*models.Organization, error) {
	org := &models.Organization{ID: uuid.New(), ExternalID: externalID, Name: name}
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO organizations (id, external_id, name)
		 VALUES ($1, $2, $3)
		 RETURNING created_at, updated_at`,
		org.ID, org.ExternalID, org.Name)
	if err := row.Scan(&org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%w: insert organization: %v", errs.ErrPersistence, err)
	}
	return org, nil
}

// GetOrganizationByExternalID looks up an organization by its external id.
func (s *Store) GetOrganizationByExternalID(ctx context.Context, externalID string) (*models.Organization, error) {
	org := &models.Organization{}
	row := s.Pool.QueryRow(ctx,
		`SELECT id, external_id, name, created_at, updated_at
		 FROM organizations WHERE external_id = $1`, externalID)
	if err := row.Scan(&org.ID, &org.ExternalID, &org.Name, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("%w: get organization: %v", errs.ErrPersistence, err)
	}
	return org, nil
}
