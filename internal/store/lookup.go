package store

import (
	"context"
	"fmt"

	"dotproj/api/internal/rbac"
)

// WorkspaceRole calls the same helper function the row security policies
// use, so Go-side checks agree with the database.
func (s *PostgresStore) WorkspaceRole(ctx context.Context, workspaceID, userID string) (rbac.Role, error) {
	var role string
	err := s.q(ctx).QueryRowContext(ctx, `SELECT app_workspace_role($1::uuid, $2::uuid)`, workspaceID, userID).Scan(&role)
	if err != nil {
		return rbac.RoleNone, fmt.Errorf("workspace role: %w", err)
	}
	return rbac.Role(role), nil
}

func (s *PostgresStore) OrganizationRole(ctx context.Context, organizationID, userID string) (rbac.Role, error) {
	var role string
	err := s.q(ctx).QueryRowContext(ctx, `SELECT app_organization_role($1::uuid, $2::uuid)`, organizationID, userID).Scan(&role)
	if err != nil {
		return rbac.RoleNone, fmt.Errorf("organization role: %w", err)
	}
	return rbac.Role(role), nil
}

func (s *PostgresStore) IsAssigned(ctx context.Context, userID, taskID, choreID string) (bool, error) {
	var assigned bool
	err := s.q(ctx).QueryRowContext(ctx, `SELECT app_is_assigned($1::uuid, $2::uuid, $3::uuid)`, userID, nilIfEmpty(taskID), nilIfEmpty(choreID)).Scan(&assigned)
	if err != nil {
		return false, fmt.Errorf("is assigned: %w", err)
	}
	return assigned, nil
}
