package policy

import (
	"fmt"
	"strings"
)

// SessionUserSetting is the session variable carrying the acting user id.
const SessionUserSetting = "app.current_user_id"

// Helper functions referenced by the rendered policies. The lookups are
// SECURITY DEFINER so that reading memberships from inside a policy does not
// re-enter the memberships table's own row security.
const functionsSQL = `
CREATE OR REPLACE FUNCTION app_current_user_id() RETURNS uuid
LANGUAGE sql STABLE AS $$
	SELECT NULLIF(current_setting('app.current_user_id', true), '')::uuid
$$;

CREATE OR REPLACE FUNCTION app_workspace_role(w_id uuid, u_id uuid) RETURNS text
LANGUAGE sql STABLE SECURITY DEFINER SET search_path = public AS $$
	SELECT COALESCE((SELECT role FROM workspace_members WHERE workspace_id = w_id AND user_id = u_id), '')
$$;

CREATE OR REPLACE FUNCTION app_organization_role(o_id uuid, u_id uuid) RETURNS text
LANGUAGE sql STABLE SECURITY DEFINER SET search_path = public AS $$
	SELECT COALESCE((SELECT role FROM organization_members WHERE organization_id = o_id AND user_id = u_id), '')
$$;

CREATE OR REPLACE FUNCTION app_task_workspace(t_id uuid) RETURNS uuid
LANGUAGE sql STABLE SECURITY DEFINER SET search_path = public AS $$
	SELECT workspace_id FROM tasks WHERE id = t_id
$$;

CREATE OR REPLACE FUNCTION app_chore_workspace(c_id uuid) RETURNS uuid
LANGUAGE sql STABLE SECURITY DEFINER SET search_path = public AS $$
	SELECT workspace_id FROM chores WHERE id = c_id
$$;

CREATE OR REPLACE FUNCTION app_assignment_workspace(a_id uuid) RETURNS uuid
LANGUAGE sql STABLE SECURITY DEFINER SET search_path = public AS $$
	SELECT c.workspace_id FROM chore_assignments a JOIN chores c ON c.id = a.chore_id WHERE a.id = a_id
$$;

CREATE OR REPLACE FUNCTION app_assignment_user(a_id uuid) RETURNS uuid
LANGUAGE sql STABLE SECURITY DEFINER SET search_path = public AS $$
	SELECT user_id FROM chore_assignments WHERE id = a_id
$$;

CREATE OR REPLACE FUNCTION app_is_assigned(u_id uuid, t_id uuid, c_id uuid) RETURNS boolean
LANGUAGE sql STABLE SECURITY DEFINER SET search_path = public AS $$
	SELECT CASE
		WHEN t_id IS NOT NULL THEN EXISTS (SELECT 1 FROM tasks WHERE id = t_id AND owner_id = u_id)
		WHEN c_id IS NOT NULL THEN EXISTS (SELECT 1 FROM chore_assignments WHERE chore_id = c_id AND user_id = u_id)
		ELSE false
	END
$$;
`

// Statements renders the row security setup of one table for role.
func (r Rule) Statements(role string) []string {
	stmts := []string{
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", r.Table),
		fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON %s TO %s", r.Table, role),
	}
	for _, op := range Operations {
		name := r.Table + "_" + string(op)
		stmts = append(stmts, fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", name, r.Table))
		expr := r.For(op).SQL()
		switch op {
		case Insert:
			stmts = append(stmts, fmt.Sprintf("CREATE POLICY %s ON %s FOR INSERT TO %s WITH CHECK (%s)", name, r.Table, role, expr))
		case Update:
			stmts = append(stmts, fmt.Sprintf("CREATE POLICY %s ON %s FOR UPDATE TO %s USING (%s) WITH CHECK (%s)", name, r.Table, role, expr, expr))
		default:
			stmts = append(stmts, fmt.Sprintf("CREATE POLICY %s ON %s FOR %s TO %s USING (%s)", name, r.Table, strings.ToUpper(string(op)), role, expr))
		}
	}
	return stmts
}

// Script renders the complete, idempotent policy setup: the restricted role,
// helper functions, grants and one policy per table and operation.
func Script(role string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%s') THEN
		CREATE ROLE %s NOLOGIN;
	END IF;
END
$$;
`, role, role)
	fmt.Fprintf(&b, "GRANT %s TO CURRENT_USER;\n", role)
	fmt.Fprintf(&b, "GRANT USAGE ON SCHEMA public TO %s;\n", role)
	fmt.Fprintf(&b, "GRANT SELECT ON users TO %s;\n", role)
	b.WriteString(functionsSQL)
	for _, rule := range Rules() {
		b.WriteString("\n")
		for _, stmt := range rule.Statements(role) {
			b.WriteString(stmt)
			b.WriteString(";\n")
		}
	}
	return b.String()
}
