package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"dotproj/api/internal/rbac"
)

type fakeLookup struct {
	workspaces    map[string]rbac.Role // key: workspace|user
	organizations map[string]rbac.Role
	assigned      map[string]bool // key: user|task
	err           error
}

func (f fakeLookup) WorkspaceRole(_ context.Context, workspaceID, userID string) (rbac.Role, error) {
	return f.workspaces[workspaceID+"|"+userID], f.err
}

func (f fakeLookup) OrganizationRole(_ context.Context, organizationID, userID string) (rbac.Role, error) {
	return f.organizations[organizationID+"|"+userID], f.err
}

func (f fakeLookup) IsAssigned(_ context.Context, userID, taskID, _ string) (bool, error) {
	return f.assigned[userID+"|"+taskID], f.err
}

func TestTaskVisibilityForViewer(t *testing.T) {
	lookup := fakeLookup{workspaces: map[string]rbac.Role{"w1|u1": rbac.RoleViewer}}
	ctx := context.Background()

	own := Row{"workspace_id": "w1", "owner_id": "u1"}
	other := Row{"workspace_id": "w1", "owner_id": "u2"}

	for _, op := range Operations {
		ok, err := Allowed(ctx, lookup, Task, op, "u1", own)
		if err != nil {
			t.Fatalf("Allowed(%s own) error = %v", op, err)
		}
		if !ok {
			t.Fatalf("Allowed(%s own) = false, want true", op)
		}
		ok, err = Allowed(ctx, lookup, Task, op, "u1", other)
		if err != nil {
			t.Fatalf("Allowed(%s other) error = %v", op, err)
		}
		if ok {
			t.Fatalf("Allowed(%s other) = true, want false", op)
		}
	}
}

func TestRoleMatrix(t *testing.T) {
	lookup := fakeLookup{workspaces: map[string]rbac.Role{
		"w1|owner":   rbac.RoleOwner,
		"w1|manager": rbac.RoleManager,
		"w1|user":    rbac.RoleUser,
		"w1|viewer":  rbac.RoleViewer,
	}}
	cases := []struct {
		name   string
		entity Entity
		op     Operation
		user   string
		row    Row
		allow  bool
	}{
		{name: "manager sees foreign task", entity: Task, op: Select, user: "manager", row: Row{"workspace_id": "w1", "owner_id": "x"}, allow: true},
		{name: "user cannot see foreign task", entity: Task, op: Select, user: "user", row: Row{"workspace_id": "w1", "owner_id": "x"}, allow: false},
		{name: "user inserts own task", entity: Task, op: Insert, user: "user", row: Row{"workspace_id": "w1", "owner_id": "user"}, allow: true},
		{name: "unowned task hidden from user", entity: Task, op: Select, user: "user", row: Row{"workspace_id": "w1"}, allow: false},
		{name: "outsider sees nothing", entity: Category, op: Select, user: "stranger", row: Row{"workspace_id": "w1"}, allow: false},
		{name: "viewer reads categories", entity: Category, op: Select, user: "viewer", row: Row{"workspace_id": "w1"}, allow: true},
		{name: "user cannot create categories", entity: Category, op: Insert, user: "user", row: Row{"workspace_id": "w1"}, allow: false},
		{name: "manager cannot delete workspace", entity: Workspace, op: Delete, user: "manager", row: Row{"id": "w1"}, allow: false},
		{name: "owner deletes workspace", entity: Workspace, op: Delete, user: "owner", row: Row{"id": "w1"}, allow: true},
		{name: "manager updates workspace", entity: Workspace, op: Update, user: "manager", row: Row{"id": "w1"}, allow: true},
		{name: "own membership visible without role", entity: WorkspaceMember, op: Select, user: "stranger", row: Row{"workspace_id": "w9", "user_id": "stranger"}, allow: true},
		{name: "viewer cannot invite", entity: WorkspaceInvite, op: Insert, user: "viewer", row: Row{"workspace_id": "w1"}, allow: false},
		{name: "subject updates own assignment", entity: ChoreAssigned, op: Update, user: "viewer", row: Row{"workspace_id": "w1", "user_id": "viewer"}, allow: true},
		{name: "subject cannot delete own assignment", entity: ChoreAssigned, op: Delete, user: "viewer", row: Row{"workspace_id": "w1", "user_id": "viewer"}, allow: false},
		{name: "summary never written by users", entity: TaskSummary, op: Insert, user: "owner", row: Row{"task.workspace_id": "w1"}, allow: false},
		{name: "viewer reads forms", entity: Form, op: Select, user: "viewer", row: Row{"workspace_id": "w1"}, allow: true},
		{name: "user cannot edit forms", entity: Form, op: Update, user: "user", row: Row{"workspace_id": "w1"}, allow: false},
		{name: "manager creates processes", entity: Process, op: Insert, user: "manager", row: Row{"workspace_id": "w1"}, allow: true},
		{name: "user submits form as self", entity: FormSubmission, op: Insert, user: "user", row: Row{"workspace_id": "w1", "submitter_id": "user"}, allow: true},
		{name: "user cannot submit as another", entity: FormSubmission, op: Insert, user: "user", row: Row{"workspace_id": "w1", "submitter_id": "owner"}, allow: false},
		{name: "viewer cannot submit forms", entity: FormSubmission, op: Insert, user: "viewer", row: Row{"workspace_id": "w1", "submitter_id": "viewer"}, allow: false},
		{name: "foreign submission hidden from user", entity: FormSubmission, op: Select, user: "user", row: Row{"workspace_id": "w1", "submitter_id": "owner"}, allow: false},
		{name: "manager reads every submission", entity: FormSubmission, op: Select, user: "manager", row: Row{"workspace_id": "w1", "submitter_id": "user"}, allow: true},
		{name: "initiator advances instance", entity: ProcessInstance, op: Update, user: "user", row: Row{"workspace_id": "w1", "initiator_id": "user"}, allow: true},
		{name: "initiator cannot delete instance", entity: ProcessInstance, op: Delete, user: "user", row: Row{"workspace_id": "w1", "initiator_id": "user"}, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Allowed(context.Background(), lookup, tc.entity, tc.op, tc.user, tc.row)
			if err != nil {
				t.Fatalf("Allowed() error = %v", err)
			}
			if got != tc.allow {
				t.Fatalf("Allowed(%s, %s, %s) = %v, want %v", tc.entity, tc.op, tc.user, got, tc.allow)
			}
		})
	}
}

func TestCommentFollowsTaskVisibility(t *testing.T) {
	lookup := fakeLookup{
		workspaces: map[string]rbac.Role{"w1|u1": rbac.RoleUser},
		assigned:   map[string]bool{"u1|t1": true},
	}
	ctx := context.Background()

	visible := Row{"task_id": "t1", "workspace_id": "w1", "task.workspace_id": "w1", "task.owner_id": "u1"}
	hidden := Row{"task_id": "t2", "workspace_id": "w1", "task.workspace_id": "w1", "task.owner_id": "u2"}

	if ok, _ := Allowed(ctx, lookup, TaskComment, Select, "u1", visible); !ok {
		t.Fatal("comment on own task should be visible")
	}
	if ok, _ := Allowed(ctx, lookup, TaskComment, Select, "u1", hidden); ok {
		t.Fatal("comment on hidden task should not be visible")
	}
	if ok, _ := Allowed(ctx, lookup, TaskComment, Insert, "u1", visible); !ok {
		t.Fatal("assigned user should be able to comment")
	}
	if ok, _ := Allowed(ctx, lookup, TaskComment, Insert, "u1", hidden); ok {
		t.Fatal("unassigned user should not be able to comment")
	}
}

func TestTaskFileFollowsTask(t *testing.T) {
	lookup := fakeLookup{
		workspaces: map[string]rbac.Role{"w1|u1": rbac.RoleUser, "w1|m1": rbac.RoleManager},
		assigned:   map[string]bool{"u1|t1": true},
	}
	ctx := context.Background()
	own := Row{"task_id": "t1", "workspace_id": "w1", "owner_id": "u1", "task.workspace_id": "w1", "task.owner_id": "u1"}
	foreign := Row{"task_id": "t2", "workspace_id": "w1", "owner_id": "u1", "task.workspace_id": "w1", "task.owner_id": "u2"}

	if ok, _ := Allowed(ctx, lookup, TaskCommentFile, Select, "u1", own); !ok {
		t.Fatal("attachment on own task should be visible")
	}
	if ok, _ := Allowed(ctx, lookup, TaskCommentFile, Select, "u1", foreign); ok {
		t.Fatal("attachment on hidden task should not be visible")
	}
	if ok, _ := Allowed(ctx, lookup, TaskCommentFile, Insert, "u1", own); !ok {
		t.Fatal("assigned user should be able to attach")
	}
	if ok, _ := Allowed(ctx, lookup, TaskCommentFile, Insert, "u1", foreign); ok {
		t.Fatal("unassigned user should not be able to attach")
	}
	if ok, _ := Allowed(ctx, lookup, TaskCommentFile, Delete, "m1", foreign); !ok {
		t.Fatal("manager should be able to remove any attachment")
	}
}

func TestSubmissionFollowsAssignment(t *testing.T) {
	lookup := fakeLookup{workspaces: map[string]rbac.Role{"w1|u1": rbac.RoleViewer}}
	row := Row{
		"workspace_id":                  "w1",
		"assignment.user_id":            "u1",
		"assignment.chore.workspace_id": "w1",
	}
	if ok, err := Allowed(context.Background(), lookup, ChoreAssignmentSubmission, Select, "u1", row); err != nil || !ok {
		t.Fatalf("Allowed(select) = %v, %v", ok, err)
	}
	if ok, err := Allowed(context.Background(), lookup, ChoreAssignmentSubmission, Insert, "u1", row); err != nil || !ok {
		t.Fatalf("Allowed(insert by subject) = %v, %v", ok, err)
	}
	if ok, _ := Allowed(context.Background(), lookup, ChoreAssignmentSubmission, Insert, "u2", row); ok {
		t.Fatal("Allowed(insert by other) = true")
	}
}

func TestAnonymousDenied(t *testing.T) {
	lookup := fakeLookup{}
	if ok, _ := Allowed(context.Background(), lookup, Organization, Insert, "", Row{}); ok {
		t.Fatal("anonymous organization insert allowed")
	}
	if ok, _ := Allowed(context.Background(), lookup, Organization, Insert, "u1", Row{}); !ok {
		t.Fatal("authenticated organization insert denied")
	}
}

func TestLookupErrorPropagates(t *testing.T) {
	lookup := fakeLookup{err: errors.New("boom")}
	_, err := Allowed(context.Background(), lookup, Category, Select, "u1", Row{"workspace_id": "w1"})
	if err == nil {
		t.Fatal("Allowed() error = nil, want lookup error")
	}
}

func TestUnknownEntity(t *testing.T) {
	_, err := Allowed(context.Background(), fakeLookup{}, Entity("ledger"), Select, "u1", Row{})
	if !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("Allowed() error = %v, want ErrUnknownEntity", err)
	}
}

func TestStatementsRenderEveryOperation(t *testing.T) {
	rule, ok := RuleFor(Task)
	if !ok {
		t.Fatal("RuleFor(Task) missing")
	}
	stmts := rule.Statements("dotproj_user")
	joined := strings.Join(stmts, "\n")
	for _, want := range []string{
		"ALTER TABLE tasks ENABLE ROW LEVEL SECURITY",
		"CREATE POLICY tasks_select ON tasks FOR SELECT TO dotproj_user USING",
		"CREATE POLICY tasks_insert ON tasks FOR INSERT TO dotproj_user WITH CHECK",
		"CREATE POLICY tasks_update ON tasks FOR UPDATE TO dotproj_user USING",
		"CREATE POLICY tasks_delete ON tasks FOR DELETE TO dotproj_user USING",
		"app_workspace_role(workspace_id, app_current_user_id()) IN ('owner', 'manager')",
		"(owner_id = app_current_user_id())",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("statements missing %q:\n%s", want, joined)
		}
	}
}

func TestScriptCoversAllTables(t *testing.T) {
	script := Script("dotproj_user")
	for _, rule := range Rules() {
		if !strings.Contains(script, "DROP POLICY IF EXISTS "+rule.Table+"_select ON "+rule.Table) {
			t.Fatalf("script missing policies for %s", rule.Table)
		}
	}
	if !strings.Contains(script, "SECURITY DEFINER") {
		t.Fatal("script missing helper functions")
	}
}

func TestChoreAssignmentCheckReadsAssignments(t *testing.T) {
	script := Script("dotproj_user")
	if !strings.Contains(script, "WHEN c_id IS NOT NULL THEN EXISTS (SELECT 1 FROM chore_assignments WHERE chore_id = c_id AND user_id = u_id)") {
		t.Fatal("app_is_assigned must check chore assignments")
	}
	if strings.Contains(script, "FROM chore_responsibles WHERE chore_id = c_id") {
		t.Fatal("app_is_assigned must not treat responsibles as assigned")
	}
}
