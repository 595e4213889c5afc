// Package policy holds the row-level authorization rules for every workspace
// entity. Each rule is an expression tree that renders to a Postgres row
// security predicate and can also be evaluated in Go against a Row, so the
// database and in-process filters (search hits, pre-checks) agree.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dotproj/api/internal/rbac"
)

type Operation string

const (
	Select Operation = "select"
	Insert Operation = "insert"
	Update Operation = "update"
	Delete Operation = "delete"
)

var Operations = []Operation{Select, Insert, Update, Delete}

var ErrUnknownEntity = errors.New("unknown policy entity")

// Row carries the column values of the row being checked. Scope attributes
// such as workspace_id must already be resolved by the caller; attributes of
// a related parent row use a dotted prefix ("task.owner_id").
type Row map[string]string

// Lookup resolves memberships. It mirrors the SQL helper functions so Go
// evaluation and database evaluation share one definition of "role".
type Lookup interface {
	WorkspaceRole(ctx context.Context, workspaceID, userID string) (rbac.Role, error)
	OrganizationRole(ctx context.Context, organizationID, userID string) (rbac.Role, error)
	IsAssigned(ctx context.Context, userID, taskID, choreID string) (bool, error)
}

type Env struct {
	Ctx    context.Context
	UserID string
	Row    Row
	Lookup Lookup
}

type Expr interface {
	Eval(env Env) (bool, error)
	SQL() string
}

// Allowed evaluates the rule for entity/op against row on behalf of userID.
func Allowed(ctx context.Context, lookup Lookup, entity Entity, op Operation, userID string, row Row) (bool, error) {
	rule, ok := rules[entity]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return rule.For(op).Eval(Env{Ctx: ctx, UserID: userID, Row: row, Lookup: lookup})
}

type scopeKind int

const (
	workspaceScope scopeKind = iota
	organizationScope
)

// Scope names the workspace or organization that owns a row: Attr is the Row
// key holding its id in Go, SQL is the expression yielding it in a policy.
type Scope struct {
	kind scopeKind
	Attr string
	SQL  string
}

func WorkspaceScope(attr, sql string) Scope {
	return Scope{kind: workspaceScope, Attr: attr, SQL: sql}
}

func OrganizationScope(attr, sql string) Scope {
	return Scope{kind: organizationScope, Attr: attr, SQL: sql}
}

func (s Scope) role(env Env) (rbac.Role, error) {
	id := env.Row[s.Attr]
	if env.UserID == "" || id == "" {
		return rbac.RoleNone, nil
	}
	if env.Lookup == nil {
		return rbac.RoleNone, errors.New("policy: no role lookup configured")
	}
	if s.kind == organizationScope {
		return env.Lookup.OrganizationRole(env.Ctx, id, env.UserID)
	}
	return env.Lookup.WorkspaceRole(env.Ctx, id, env.UserID)
}

func (s Scope) roleSQL() string {
	if s.kind == organizationScope {
		return fmt.Sprintf("app_organization_role(%s, app_current_user_id())", s.SQL)
	}
	return fmt.Sprintf("app_workspace_role(%s, app_current_user_id())", s.SQL)
}

type authenticated struct{}

// Authenticated holds for any caller with a user id.
func Authenticated() Expr { return authenticated{} }

func (authenticated) Eval(env Env) (bool, error) { return env.UserID != "", nil }
func (authenticated) SQL() string                { return "app_current_user_id() IS NOT NULL" }

type deny struct{}

// Deny never holds for the restricted role; only privileged connections write.
func Deny() Expr { return deny{} }

func (deny) Eval(Env) (bool, error) { return false, nil }
func (deny) SQL() string            { return "false" }

type roleIn struct {
	scope Scope
	roles []rbac.Role
}

// AnyRole holds when the user has any membership on the scope.
func AnyRole(scope Scope) Expr { return roleIn{scope: scope} }

func RoleIn(scope Scope, roles ...rbac.Role) Expr {
	return roleIn{scope: scope, roles: roles}
}

func (e roleIn) Eval(env Env) (bool, error) {
	role, err := e.scope.role(env)
	if err != nil {
		return false, err
	}
	if len(e.roles) == 0 {
		return role != rbac.RoleNone, nil
	}
	return rbac.In(role, e.roles...), nil
}

func (e roleIn) SQL() string {
	if len(e.roles) == 0 {
		return e.scope.roleSQL() + " <> ''"
	}
	quoted := make([]string, 0, len(e.roles))
	for _, role := range e.roles {
		quoted = append(quoted, "'"+string(role)+"'")
	}
	return fmt.Sprintf("%s IN (%s)", e.scope.roleSQL(), strings.Join(quoted, ", "))
}

type actorIs struct {
	attr string
	sql  string
}

// ActorIs holds when the row attribute equals the acting user.
func ActorIs(attr, sql string) Expr { return actorIs{attr: attr, sql: sql} }

func (e actorIs) Eval(env Env) (bool, error) {
	return env.UserID != "" && env.Row[e.attr] == env.UserID, nil
}

func (e actorIs) SQL() string { return e.sql + " = app_current_user_id()" }

type assignedToTask struct {
	attr string
	sql  string
}

func AssignedToTask(attr, sql string) Expr { return assignedToTask{attr: attr, sql: sql} }

func (e assignedToTask) Eval(env Env) (bool, error) {
	taskID := env.Row[e.attr]
	if env.UserID == "" || taskID == "" {
		return false, nil
	}
	if env.Lookup == nil {
		return false, errors.New("policy: no role lookup configured")
	}
	return env.Lookup.IsAssigned(env.Ctx, env.UserID, taskID, "")
}

func (e assignedToTask) SQL() string {
	return fmt.Sprintf("app_is_assigned(app_current_user_id(), %s, NULL)", e.sql)
}

type related struct {
	entity Entity
	prefix string
	sql    string
}

// Visible holds when the parent row is visible under the parent's select
// rule. In SQL it is an EXISTS subquery, which the parent's own row security
// filters.
func Visible(entity Entity, prefix, sql string) Expr {
	return related{entity: entity, prefix: prefix, sql: sql}
}

func (e related) Eval(env Env) (bool, error) {
	rule, ok := rules[e.entity]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownEntity, e.entity)
	}
	parent := Row{}
	for key, value := range env.Row {
		if strings.HasPrefix(key, e.prefix) {
			parent[strings.TrimPrefix(key, e.prefix)] = value
		}
	}
	env.Row = parent
	return rule.Select.Eval(env)
}

func (e related) SQL() string { return e.sql }

type anyOf []Expr

func Or(exprs ...Expr) Expr { return anyOf(exprs) }

func (e anyOf) Eval(env Env) (bool, error) {
	for _, expr := range e {
		ok, err := expr.Eval(env)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e anyOf) SQL() string { return join(e, " OR ") }

type allOf []Expr

func And(exprs ...Expr) Expr { return allOf(exprs) }

func (e allOf) Eval(env Env) (bool, error) {
	for _, expr := range e {
		ok, err := expr.Eval(env)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return len(e) > 0, nil
}

func (e allOf) SQL() string { return join(e, " AND ") }

func join(exprs []Expr, sep string) string {
	parts := make([]string, 0, len(exprs))
	for _, expr := range exprs {
		parts = append(parts, "("+expr.SQL()+")")
	}
	return strings.Join(parts, sep)
}
