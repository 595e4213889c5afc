package policy

import "dotproj/api/internal/rbac"

type Entity string

const (
	Organization              Entity = "organization"
	OrganizationMember        Entity = "organization_member"
	Workspace                 Entity = "workspace"
	WorkspaceMember           Entity = "workspace_member"
	WorkspaceInvite           Entity = "workspace_invite"
	Category                  Entity = "category"
	Stage                     Entity = "stage"
	Task                      Entity = "task"
	TaskComment               Entity = "task_comment"
	TaskSummary               Entity = "task_summary"
	Chore                     Entity = "chore"
	ChoreResponsible          Entity = "chore_responsible"
	ChoreAssigned             Entity = "chore_assigned"
	ChoreAssignmentSubmission Entity = "chore_assignment_submission"
	WorkspaceFile             Entity = "workspace_file"
	TaskCommentFile           Entity = "task_comment_file"
	Form                      Entity = "form"
	FormSubmission            Entity = "form_submission"
	Process                   Entity = "process"
	ProcessInstance           Entity = "process_instance"
)

type Rule struct {
	Entity Entity
	Table  string
	Select Expr
	Insert Expr
	Update Expr
	Delete Expr
}

func (r Rule) For(op Operation) Expr {
	switch op {
	case Select:
		return r.Select
	case Insert:
		return r.Insert
	case Update:
		return r.Update
	case Delete:
		return r.Delete
	default:
		return Deny()
	}
}

// Rules returns the rule table in migration order.
func Rules() []Rule {
	out := make([]Rule, 0, len(order))
	for _, entity := range order {
		out = append(out, rules[entity])
	}
	return out
}

func RuleFor(entity Entity) (Rule, bool) {
	rule, ok := rules[entity]
	return rule, ok
}

var (
	owner   = rbac.RoleOwner
	manager = rbac.RoleManager
	user    = rbac.RoleUser
	viewer  = rbac.RoleViewer
)

var order = []Entity{
	Organization, OrganizationMember, Workspace, WorkspaceMember, WorkspaceInvite,
	Category, Stage, Task, TaskComment, TaskSummary,
	Chore, ChoreResponsible, ChoreAssigned, ChoreAssignmentSubmission, WorkspaceFile,
	TaskCommentFile, Form, FormSubmission, Process, ProcessInstance,
}

var rules = buildRules()

func buildRules() map[Entity]Rule {
	org := OrganizationScope("id", "id")
	memberOrg := OrganizationScope("organization_id", "organization_id")
	ws := WorkspaceScope("id", "id")
	inWorkspace := WorkspaceScope("workspace_id", "workspace_id")
	taskWorkspace := WorkspaceScope("workspace_id", "app_task_workspace(task_id)")
	choreWorkspace := WorkspaceScope("workspace_id", "app_chore_workspace(chore_id)")
	assignmentWorkspace := WorkspaceScope("workspace_id", "app_assignment_workspace(assignment_id)")

	administer := RoleIn(inWorkspace, owner, manager)
	contribute := RoleIn(inWorkspace, owner, manager, user)
	taskAccess := Or(
		RoleIn(inWorkspace, owner, manager),
		And(RoleIn(inWorkspace, user, viewer), ActorIs("owner_id", "owner_id")),
	)

	list := []Rule{
		{
			Entity: Organization, Table: "organizations",
			Select: AnyRole(org),
			Insert: Authenticated(),
			Update: RoleIn(org, owner),
			Delete: RoleIn(org, owner),
		},
		{
			Entity: OrganizationMember, Table: "organization_members",
			Select: Or(AnyRole(memberOrg), ActorIs("user_id", "user_id")),
			Insert: RoleIn(memberOrg, owner, manager),
			Update: RoleIn(memberOrg, owner, manager),
			Delete: RoleIn(memberOrg, owner, manager),
		},
		{
			Entity: Workspace, Table: "workspaces",
			Select: AnyRole(ws),
			Insert: AnyRole(memberOrg),
			Update: RoleIn(ws, owner, manager),
			Delete: RoleIn(ws, owner),
		},
		{
			Entity: WorkspaceMember, Table: "workspace_members",
			Select: Or(AnyRole(inWorkspace), ActorIs("user_id", "user_id")),
			Insert: administer,
			Update: administer,
			Delete: administer,
		},
		{
			Entity: WorkspaceInvite, Table: "workspace_invites",
			Select: administer, Insert: administer, Update: administer, Delete: administer,
		},
		{
			Entity: Category, Table: "categories",
			Select: AnyRole(inWorkspace), Insert: administer, Update: administer, Delete: administer,
		},
		{
			Entity: Stage, Table: "stages",
			Select: AnyRole(inWorkspace), Insert: administer, Update: administer, Delete: administer,
		},
		{
			Entity: Task, Table: "tasks",
			Select: taskAccess, Insert: taskAccess, Update: taskAccess, Delete: taskAccess,
		},
		{
			Entity: TaskComment, Table: "task_comments",
			Select: Visible(Task, "task.", "EXISTS (SELECT 1 FROM tasks WHERE tasks.id = task_comments.task_id)"),
			Insert: Or(RoleIn(taskWorkspace, owner, manager), AssignedToTask("task_id", "task_id")),
			Update: ActorIs("author_id", "author_id"),
			Delete: Or(ActorIs("author_id", "author_id"), RoleIn(taskWorkspace, owner, manager)),
		},
		{
			Entity: TaskSummary, Table: "task_summaries",
			Select: Visible(Task, "task.", "EXISTS (SELECT 1 FROM tasks WHERE tasks.id = task_summaries.task_id)"),
			Insert: Deny(), Update: Deny(), Delete: Deny(),
		},
		{
			Entity: Chore, Table: "chores",
			Select: AnyRole(inWorkspace), Insert: administer, Update: administer, Delete: administer,
		},
		{
			Entity: ChoreResponsible, Table: "chore_responsibles",
			Select: Visible(Chore, "chore.", "EXISTS (SELECT 1 FROM chores WHERE chores.id = chore_responsibles.chore_id)"),
			Insert: RoleIn(choreWorkspace, owner, manager),
			Update: RoleIn(choreWorkspace, owner, manager),
			Delete: RoleIn(choreWorkspace, owner, manager),
		},
		{
			Entity: ChoreAssigned, Table: "chore_assignments",
			Select: Visible(Chore, "chore.", "EXISTS (SELECT 1 FROM chores WHERE chores.id = chore_assignments.chore_id)"),
			Insert: Or(RoleIn(choreWorkspace, owner, manager), ActorIs("user_id", "user_id")),
			Update: Or(RoleIn(choreWorkspace, owner, manager), ActorIs("user_id", "user_id")),
			Delete: RoleIn(choreWorkspace, owner, manager),
		},
		{
			Entity: ChoreAssignmentSubmission, Table: "chore_assignment_submissions",
			Select: Visible(ChoreAssigned, "assignment.", "EXISTS (SELECT 1 FROM chore_assignments WHERE chore_assignments.id = chore_assignment_submissions.assignment_id)"),
			Insert: Or(RoleIn(assignmentWorkspace, owner, manager), ActorIs("assignment.user_id", "app_assignment_user(assignment_id)")),
			Update: ActorIs("user_id", "user_id"),
			Delete: Or(ActorIs("user_id", "user_id"), RoleIn(assignmentWorkspace, owner, manager)),
		},
		{
			Entity: WorkspaceFile, Table: "workspace_files",
			Select: AnyRole(inWorkspace),
			Insert: RoleIn(inWorkspace, owner, manager, user),
			Update: administer,
			Delete: Or(administer, ActorIs("created_by", "created_by")),
		},
		{
			Entity: TaskCommentFile, Table: "task_comment_files",
			Select: Visible(Task, "task.", "EXISTS (SELECT 1 FROM tasks WHERE tasks.id = task_comment_files.task_id)"),
			Insert: And(
				Or(RoleIn(taskWorkspace, owner, manager), AssignedToTask("task_id", "task_id")),
				ActorIs("owner_id", "owner_id"),
			),
			Update: ActorIs("owner_id", "owner_id"),
			Delete: Or(ActorIs("owner_id", "owner_id"), RoleIn(taskWorkspace, owner, manager)),
		},
		{
			Entity: Form, Table: "forms",
			Select: AnyRole(inWorkspace), Insert: administer, Update: administer, Delete: administer,
		},
		{
			Entity: FormSubmission, Table: "form_submissions",
			Select: Or(administer, ActorIs("submitter_id", "submitter_id")),
			Insert: And(contribute, ActorIs("submitter_id", "submitter_id")),
			Update: ActorIs("submitter_id", "submitter_id"),
			Delete: Or(administer, ActorIs("submitter_id", "submitter_id")),
		},
		{
			Entity: Process, Table: "processes",
			Select: AnyRole(inWorkspace), Insert: administer, Update: administer, Delete: administer,
		},
		{
			Entity: ProcessInstance, Table: "process_instances",
			Select: Or(administer, ActorIs("initiator_id", "initiator_id")),
			Insert: And(contribute, ActorIs("initiator_id", "initiator_id")),
			Update: Or(administer, ActorIs("initiator_id", "initiator_id")),
			Delete: administer,
		},
	}

	out := make(map[Entity]Rule, len(list))
	for _, rule := range list {
		out[rule.Entity] = rule
	}
	return out
}
