package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUser records the identity presented by a verified token. It always
// runs on the pool: users carry no row security.
func (s *PostgresStore) UpsertUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, is_staff)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			email = CASE WHEN EXCLUDED.email = '' THEN users.email ELSE EXCLUDED.email END,
			name = CASE WHEN EXCLUDED.name = '' THEN users.name ELSE EXCLUDED.name END,
			is_staff = EXCLUDED.is_staff
		RETURNING id, email, name, is_staff, created_at
	`, user.ID, user.Email, user.Name, user.IsStaff).Scan(&user.ID, &user.Email, &user.Name, &user.IsStaff, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.q(ctx).QueryRowContext(ctx, `SELECT id, email, name, is_staff, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.Email, &user.Name, &user.IsStaff, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// CurrentRole reports the database role the bound connection runs as.
func (s *PostgresStore) CurrentRole(ctx context.Context) (string, string, error) {
	var role, actor string
	err := s.q(ctx).QueryRowContext(ctx, `SELECT current_user, COALESCE(current_setting('app.current_user_id', true), '')`).Scan(&role, &actor)
	if err != nil {
		return "", "", fmt.Errorf("read current role: %w", err)
	}
	return role, actor, nil
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, name string) (Organization, error) {
	org := Organization{ID: uuid.NewString(), Name: name, CreatedAt: s.now()}
	_, err := s.q(ctx).ExecContext(ctx, `INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, $3)`, org.ID, org.Name, org.CreatedAt)
	if err != nil {
		return Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	return org, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id, name, created_at FROM organizations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	items := make([]Organization, 0)
	for rows.Next() {
		var item Organization
		if err := rows.Scan(&item.ID, &item.Name, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (Organization, error) {
	var item Organization
	err := s.q(ctx).QueryRowContext(ctx, `SELECT id, name, created_at FROM organizations WHERE id=$1`, id).
		Scan(&item.ID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Organization{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateOrganization(ctx context.Context, id, name string) error {
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE organizations SET name=$2 WHERE id=$1`, id, name)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) DeleteOrganization(ctx context.Context, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM organizations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) CreateWorkspace(ctx context.Context, organizationID, label string) (Workspace, error) {
	ws := Workspace{ID: uuid.NewString(), OrganizationID: organizationID, Label: label, CreatedAt: s.now()}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO workspaces (id, organization_id, label, created_at) VALUES ($1, $2, $3, $4)
	`, ws.ID, ws.OrganizationID, ws.Label, ws.CreatedAt)
	if err != nil {
		return Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}
	return ws, nil
}

func (s *PostgresStore) ListWorkspaces(ctx context.Context, organizationID string) ([]Workspace, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, organization_id, label, created_at
		FROM workspaces
		WHERE ($1 = '' OR organization_id::text = $1)
		ORDER BY label
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		var item Workspace
		if err := rows.Scan(&item.ID, &item.OrganizationID, &item.Label, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

// ListWorkspaceIDs returns every workspace id. Callers run it privileged.
func (s *PostgresStore) ListWorkspaceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id FROM workspaces ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list workspace ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workspace id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	var item Workspace
	err := s.q(ctx).QueryRowContext(ctx, `SELECT id, organization_id, label, created_at FROM workspaces WHERE id=$1`, id).
		Scan(&item.ID, &item.OrganizationID, &item.Label, &item.CreatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateWorkspace(ctx context.Context, id, label string) error {
	res, err := s.q(ctx).ExecContext(ctx, `UPDATE workspaces SET label=$2 WHERE id=$1`, id, label)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	return affected(res)
}

func (s *PostgresStore) DeleteWorkspace(ctx context.Context, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM workspaces WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return affected(res)
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
