package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MemberScope selects the membership table: workspace or organization.
type MemberScope struct {
	table  string
	column string
}

var (
	WorkspaceMembers    = MemberScope{table: "workspace_members", column: "workspace_id"}
	OrganizationMembers = MemberScope{table: "organization_members", column: "organization_id"}
)

// AddMember grants role to userID in scopeID. When the user already holds a
// membership, including one a concurrent call just inserted, that row is
// returned unchanged with created false.
func (s *PostgresStore) AddMember(ctx context.Context, scope MemberScope, scopeID, userID, role string) (Member, bool, error) {
	member := Member{ID: uuid.NewString(), ScopeID: scopeID, UserID: userID, Role: role, CreatedAt: s.now()}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, %s, user_id, role, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (%s, user_id) DO NOTHING
	`, scope.table, scope.column, scope.column)
	res, err := s.q(ctx).ExecContext(ctx, query, member.ID, scopeID, userID, role, member.CreatedAt)
	if err != nil {
		return Member{}, false, fmt.Errorf("insert %s: %w", scope.table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return member, true, nil
	}
	existing, err := s.GetMembership(ctx, scope, scopeID, userID)
	if err != nil {
		return Member{}, false, fmt.Errorf("select %s: %w", scope.table, err)
	}
	return existing, false, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, scope MemberScope, scopeID string) ([]Member, error) {
	query := fmt.Sprintf(`
		SELECT m.id, m.%s, m.user_id, COALESCE(u.name, ''), m.role, m.created_at
		FROM %s m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.%s = $1
		ORDER BY m.created_at
	`, scope.column, scope.table, scope.column)
	rows, err := s.q(ctx).QueryContext(ctx, query, scopeID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", scope.table, err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var item Member
		if err := rows.Scan(&item.ID, &item.ScopeID, &item.UserID, &item.UserName, &item.Role, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

// GetMembership returns the membership of userID in scopeID.
func (s *PostgresStore) GetMembership(ctx context.Context, scope MemberScope, scopeID, userID string) (Member, error) {
	query := fmt.Sprintf(`SELECT id, %s, user_id, role, created_at FROM %s WHERE %s = $1 AND user_id = $2`, scope.column, scope.table, scope.column)
	var item Member
	err := s.q(ctx).QueryRowContext(ctx, query, scopeID, userID).Scan(&item.ID, &item.ScopeID, &item.UserID, &item.Role, &item.CreatedAt)
	if err != nil {
		return Member{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, scope MemberScope, scopeID, memberID, role string) error {
	query := fmt.Sprintf(`UPDATE %s SET role=$3 WHERE id=$1 AND %s=$2`, scope.table, scope.column)
	res, err := s.q(ctx).ExecContext(ctx, query, memberID, scopeID, role)
	if err != nil {
		return fmt.Errorf("update %s: %w", scope.table, err)
	}
	return affected(res)
}

func (s *PostgresStore) RemoveMember(ctx context.Context, scope MemberScope, scopeID, memberID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id=$1 AND %s=$2`, scope.table, scope.column)
	res, err := s.q(ctx).ExecContext(ctx, query, memberID, scopeID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", scope.table, err)
	}
	return affected(res)
}

func (s *PostgresStore) CreateInvite(ctx context.Context, invite Invite) (Invite, error) {
	invite.ID = uuid.NewString()
	invite.CreatedAt = s.now()
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO workspace_invites (id, token, workspace_id, role, email, invited_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, invite.ID, invite.Token, invite.WorkspaceID, invite.Role, invite.Email, nilIfEmpty(invite.InvitedBy), invite.ExpiresAt, invite.CreatedAt)
	if err != nil {
		return Invite{}, fmt.Errorf("insert invite: %w", err)
	}
	return invite, nil
}

const inviteColumns = `id, token, workspace_id, role, email, COALESCE(invited_by::text, ''), expires_at, created_at`

func scanInvite(row interface{ Scan(...any) error }) (Invite, error) {
	var item Invite
	err := row.Scan(&item.ID, &item.Token, &item.WorkspaceID, &item.Role, &item.Email, &item.InvitedBy, &item.ExpiresAt, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) GetInviteByToken(ctx context.Context, token string) (Invite, error) {
	return scanInvite(s.q(ctx).QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM workspace_invites WHERE token=$1`, token))
}

func (s *PostgresStore) ListInvites(ctx context.Context, workspaceID string) ([]Invite, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT `+inviteColumns+` FROM workspace_invites WHERE workspace_id=$1 ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	items := make([]Invite, 0)
	for rows.Next() {
		item, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invites: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteInvite(ctx context.Context, workspaceID, inviteID string) error {
	res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM workspace_invites WHERE id=$1 AND workspace_id=$2`, inviteID, workspaceID)
	if err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	return affected(res)
}

// LabelKind selects categories or stages.
type LabelKind string

const (
	Categories LabelKind = "categories"
	Stages     LabelKind = "stages"
)

func (s *PostgresStore) ListLabels(ctx context.Context, kind LabelKind, workspaceID string) ([]Label, error) {
	rows, err := s.q(ctx).QueryContext(ctx, fmt.Sprintf(`SELECT id, workspace_id, label, key FROM %s WHERE workspace_id=$1 ORDER BY label`, kind), workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	items := make([]Label, 0)
	for rows.Next() {
		var item Label
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &item.Label, &item.Key); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return items, nil
}

func (s *PostgresStore) CreateLabel(ctx context.Context, kind LabelKind, item Label) (Label, error) {
	item.ID = uuid.NewString()
	query := fmt.Sprintf(`INSERT INTO %s (id, workspace_id, label, key) VALUES ($1, $2, $3, $4)`, kind)
	if _, err := s.q(ctx).ExecContext(ctx, query, item.ID, item.WorkspaceID, item.Label, item.Key); err != nil {
		return Label{}, fmt.Errorf("insert %s: %w", kind, err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateLabel(ctx context.Context, kind LabelKind, item Label) error {
	query := fmt.Sprintf(`UPDATE %s SET label=$3, key=$4 WHERE id=$1 AND workspace_id=$2`, kind)
	res, err := s.q(ctx).ExecContext(ctx, query, item.ID, item.WorkspaceID, item.Label, item.Key)
	if err != nil {
		return fmt.Errorf("update %s: %w", kind, err)
	}
	return affected(res)
}

func (s *PostgresStore) DeleteLabel(ctx context.Context, kind LabelKind, workspaceID, id string) error {
	res, err := s.q(ctx).ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1 AND workspace_id=$2`, kind), id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	return affected(res)
}

func (s *PostgresStore) withNow(now func() time.Time) *PostgresStore {
	clone := *s
	clone.now = now
	return &clone
}
