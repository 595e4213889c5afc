package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dotproj/api/internal/auth"
	"dotproj/api/internal/cache"
	"dotproj/api/internal/email"
	"dotproj/api/internal/filestore"
	"dotproj/api/internal/rbac"
	"dotproj/api/internal/scheduler"
	"dotproj/api/internal/search"
	"dotproj/api/internal/store"
	"dotproj/api/internal/util"
)

const (
	defaultInviteTTL = 7 * 24 * time.Hour
	maxInviteTTL     = 90 * 24 * time.Hour
	inviteTokenBytes = 32
)

type dataStore interface {
	Ping(context.Context) error
	UpsertUser(context.Context, store.User) (store.User, error)
	GetUser(context.Context, string) (store.User, error)
	CurrentRole(context.Context) (string, string, error)

	CreateOrganization(context.Context, string) (store.Organization, error)
	ListOrganizations(context.Context) ([]store.Organization, error)
	GetOrganization(context.Context, string) (store.Organization, error)
	UpdateOrganization(context.Context, string, string) error
	DeleteOrganization(context.Context, string) error

	CreateWorkspace(context.Context, string, string) (store.Workspace, error)
	ListWorkspaces(context.Context, string) ([]store.Workspace, error)
	GetWorkspace(context.Context, string) (store.Workspace, error)
	UpdateWorkspace(context.Context, string, string) error
	DeleteWorkspace(context.Context, string) error

	AddMember(context.Context, store.MemberScope, string, string, string) (store.Member, bool, error)
	ListMembers(context.Context, store.MemberScope, string) ([]store.Member, error)
	GetMembership(context.Context, store.MemberScope, string, string) (store.Member, error)
	UpdateMemberRole(context.Context, store.MemberScope, string, string, string) error
	RemoveMember(context.Context, store.MemberScope, string, string) error

	CreateInvite(context.Context, store.Invite) (store.Invite, error)
	GetInviteByToken(context.Context, string) (store.Invite, error)
	ListInvites(context.Context, string) ([]store.Invite, error)
	DeleteInvite(context.Context, string, string) error

	ListLabels(context.Context, store.LabelKind, string) ([]store.Label, error)
	CreateLabel(context.Context, store.LabelKind, store.Label) (store.Label, error)
	UpdateLabel(context.Context, store.LabelKind, store.Label) error
	DeleteLabel(context.Context, store.LabelKind, string, string) error

	ListTasks(context.Context, string) ([]store.Task, error)
	GetTask(context.Context, string) (store.Task, error)
	CreateTask(context.Context, store.Task) (store.Task, error)
	UpdateTask(context.Context, store.Task) (store.Task, error)
	DeleteTask(context.Context, string, string) error
	ListComments(context.Context, string) ([]store.TaskComment, error)
	CreateComment(context.Context, store.TaskComment) (store.TaskComment, error)
	UpdateComment(context.Context, string, string, string) error
	DeleteComment(context.Context, string, string) error
	GetTaskSummary(context.Context, string) (store.TaskSummary, error)

	ListChores(context.Context, string) ([]store.Chore, error)
	GetChore(context.Context, string) (store.Chore, error)
	CreateChore(context.Context, store.Chore) (store.Chore, error)
	UpdateChore(context.Context, store.Chore) error
	DeleteChore(context.Context, string, string) error
	ListResponsibles(context.Context, string) ([]store.ChoreResponsible, error)
	AddResponsible(context.Context, string, string) (store.ChoreResponsible, error)
	RemoveResponsible(context.Context, string, string) error

	ListAssignments(context.Context, store.AssignmentFilter) ([]store.Assignment, error)
	GetAssignment(context.Context, string) (store.Assignment, error)
	CreateAssignment(context.Context, store.Assignment) (store.Assignment, bool, error)
	UpdateAssignmentStatus(context.Context, string, store.AssignmentStatus) error
	DeleteAssignment(context.Context, string, string) error
	ListSubmissions(context.Context, string) ([]store.Submission, error)
	CreateSubmission(context.Context, store.Submission) (store.Submission, error)

	CreateFile(context.Context, store.WorkspaceFile) (store.WorkspaceFile, error)
	ListFiles(context.Context, string) ([]store.WorkspaceFile, error)
	GetFile(context.Context, string, string) (store.WorkspaceFile, error)
	DeleteFile(context.Context, string, string) error
	FileTaskIDs(context.Context, string) ([]string, error)

	AttachTaskFile(context.Context, store.WorkspaceFile, store.TaskFile) (store.TaskFile, error)
	ListTaskFiles(context.Context, string) ([]store.TaskFile, error)
	GetTaskFile(context.Context, string, string) (store.TaskFile, error)
	DetachTaskFile(context.Context, string, string) error

	ListForms(context.Context, string) ([]store.Form, error)
	GetForm(context.Context, string, string) (store.Form, error)
	CreateForm(context.Context, store.Form) (store.Form, error)
	UpdateForm(context.Context, store.Form) (store.Form, error)
	DeleteForm(context.Context, string, string) error
	ListFormSubmissions(context.Context, string) ([]store.FormSubmission, error)
	GetFormSubmission(context.Context, string, string) (store.FormSubmission, error)
	CreateFormSubmission(context.Context, store.FormSubmission) (store.FormSubmission, error)
	UpdateFormSubmission(context.Context, store.FormSubmission) (store.FormSubmission, error)
	DeleteFormSubmission(context.Context, string, string) error

	ListProcesses(context.Context, string) ([]store.Process, error)
	GetProcess(context.Context, string, string) (store.Process, error)
	CreateProcess(context.Context, store.Process) (store.Process, error)
	UpdateProcess(context.Context, store.Process) (store.Process, error)
	DeleteProcess(context.Context, string, string) error
	ListProcessInstances(context.Context, string) ([]store.ProcessInstance, error)
	GetProcessInstance(context.Context, string, string) (store.ProcessInstance, error)
	CreateProcessInstance(context.Context, store.ProcessInstance) (store.ProcessInstance, error)
	UpdateProcessInstance(context.Context, store.ProcessInstance) (store.ProcessInstance, error)
	DeleteProcessInstance(context.Context, string, string) error
}

type taskSearch interface {
	Search(context.Context, search.Query) search.Response
	IndexTask(store.Task)
	DeleteTask(string)
}

type summaryRequester interface {
	Request(context.Context, string) error
}

type objectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// resourceToucher bumps the validators of a resource path.
type resourceToucher interface {
	Touch(ctx context.Context, path string) ([]string, error)
}

type inviteMailer interface {
	IsConfigured() bool
	SendInviteEmail(to string, data email.InviteData) error
}

// Options wires the optional collaborators. Nil collaborators disable their
// feature: no search index, no summaries, no file storage, no invite mail.
type Options struct {
	Search    taskSearch
	Summaries summaryRequester
	Files     objectStore
	Mailer    inviteMailer
	Cache     resourceToucher
	InviteTTL time.Duration
	InviteURL string
	Logger    *logrus.Entry
	Now       func() time.Time
}

type Service struct {
	store     dataStore
	search    taskSearch
	summaries summaryRequester
	files     objectStore
	mailer    inviteMailer
	cache     resourceToucher
	inviteTTL time.Duration
	inviteURL string
	log       *logrus.Entry
	now       func() time.Time
}

func NewService(st dataStore, opts Options) *Service {
	if opts.InviteTTL <= 0 {
		opts.InviteTTL = defaultInviteTTL
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:     st,
		search:    opts.Search,
		summaries: opts.Summaries,
		files:     opts.Files,
		mailer:    opts.Mailer,
		cache:     opts.Cache,
		inviteTTL: opts.InviteTTL,
		inviteURL: opts.InviteURL,
		log:       opts.Logger,
		now:       opts.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RegisterIdentity records the caller presented by a verified token.
func (s *Service) RegisterIdentity(ctx context.Context, identity auth.Identity) error {
	_, err := s.store.UpsertUser(store.Privileged(ctx), store.User{
		ID:      identity.UserID,
		Email:   identity.Email,
		Name:    identity.Name,
		IsStaff: identity.Staff,
	})
	return err
}

func (s *Service) Me(ctx context.Context, identity auth.Identity) (store.User, error) {
	return s.store.GetUser(store.Privileged(ctx), identity.UserID)
}

type RoleInfo struct {
	DatabaseRole string `json:"databaseRole"`
	ActingUserID string `json:"actingUserId"`
	Staff        bool   `json:"staff"`
}

func (s *Service) CurrentRole(ctx context.Context, identity auth.Identity) (RoleInfo, error) {
	role, actor, err := s.store.CurrentRole(ctx)
	if err != nil {
		return RoleInfo{}, err
	}
	return RoleInfo{DatabaseRole: role, ActingUserID: actor, Staff: identity.Staff}, nil
}

func parseRole(raw string, fallback rbac.Role) (rbac.Role, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	role := rbac.Role(raw)
	if !rbac.Valid(role) {
		return rbac.RoleNone, invalidInput("Unknown role", map[string]any{"role": raw, "allowed": rbac.Roles})
	}
	return role, nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalidInput(field+" is required", map[string]any{"field": field})
	}
	return nil
}

// Organizations

func (s *Service) ListOrganizations(ctx context.Context) ([]store.Organization, error) {
	return s.store.ListOrganizations(ctx)
}

func (s *Service) GetOrganization(ctx context.Context, id string) (store.Organization, error) {
	return s.store.GetOrganization(ctx, id)
}

// CreateOrganization inserts the organization as the caller and grants them
// ownership. The creator holds no membership yet, so the grant runs
// privileged and a failed grant removes the organization again.
func (s *Service) CreateOrganization(ctx context.Context, identity auth.Identity, name string) (store.Organization, error) {
	name = strings.TrimSpace(name)
	if err := required("name", name); err != nil {
		return store.Organization{}, err
	}
	org, err := s.store.CreateOrganization(ctx, name)
	if err != nil {
		return store.Organization{}, err
	}
	privileged := store.Privileged(ctx)
	if _, _, err := s.store.AddMember(privileged, store.OrganizationMembers, org.ID, identity.UserID, string(rbac.RoleOwner)); err != nil {
		if delErr := s.store.DeleteOrganization(privileged, org.ID); delErr != nil {
			err = errors.Join(err, fmt.Errorf("remove orphaned organization: %w", delErr))
		}
		return store.Organization{}, err
	}
	return org, nil
}

func (s *Service) UpdateOrganization(ctx context.Context, id, name string) (store.Organization, error) {
	name = strings.TrimSpace(name)
	if err := required("name", name); err != nil {
		return store.Organization{}, err
	}
	if err := s.store.UpdateOrganization(ctx, id, name); err != nil {
		return store.Organization{}, err
	}
	return s.store.GetOrganization(ctx, id)
}

func (s *Service) DeleteOrganization(ctx context.Context, id string) error {
	return s.store.DeleteOrganization(ctx, id)
}

// Workspaces

func (s *Service) ListWorkspaces(ctx context.Context, organizationID string) ([]store.Workspace, error) {
	return s.store.ListWorkspaces(ctx, organizationID)
}

func (s *Service) GetWorkspace(ctx context.Context, id string) (store.Workspace, error) {
	return s.store.GetWorkspace(ctx, id)
}

// CreateWorkspace follows the organization bootstrap: the insert is checked
// against the caller's organization membership, the owner grant is not.
func (s *Service) CreateWorkspace(ctx context.Context, identity auth.Identity, organizationID, label string) (store.Workspace, error) {
	label = strings.TrimSpace(label)
	if err := required("label", label); err != nil {
		return store.Workspace{}, err
	}
	if err := required("organizationId", organizationID); err != nil {
		return store.Workspace{}, err
	}
	ws, err := s.store.CreateWorkspace(ctx, organizationID, label)
	if err != nil {
		return store.Workspace{}, err
	}
	privileged := store.Privileged(ctx)
	if _, _, err := s.store.AddMember(privileged, store.WorkspaceMembers, ws.ID, identity.UserID, string(rbac.RoleOwner)); err != nil {
		if delErr := s.store.DeleteWorkspace(privileged, ws.ID); delErr != nil {
			err = errors.Join(err, fmt.Errorf("remove orphaned workspace: %w", delErr))
		}
		return store.Workspace{}, err
	}
	return ws, nil
}

func (s *Service) UpdateWorkspace(ctx context.Context, id, label string) (store.Workspace, error) {
	label = strings.TrimSpace(label)
	if err := required("label", label); err != nil {
		return store.Workspace{}, err
	}
	if err := s.store.UpdateWorkspace(ctx, id, label); err != nil {
		return store.Workspace{}, err
	}
	return s.store.GetWorkspace(ctx, id)
}

func (s *Service) DeleteWorkspace(ctx context.Context, id string) error {
	return s.store.DeleteWorkspace(ctx, id)
}

// Members

func (s *Service) ListMembers(ctx context.Context, scope store.MemberScope, scopeID string) ([]store.Member, error) {
	return s.store.ListMembers(ctx, scope, scopeID)
}

func (s *Service) AddMember(ctx context.Context, scope store.MemberScope, scopeID, userID, rawRole string) (store.Member, error) {
	if err := required("userId", userID); err != nil {
		return store.Member{}, err
	}
	role, err := parseRole(rawRole, rbac.RoleViewer)
	if err != nil {
		return store.Member{}, err
	}
	member, created, err := s.store.AddMember(ctx, scope, scopeID, userID, string(role))
	if err != nil {
		return store.Member{}, err
	}
	if !created {
		return store.Member{}, errAlreadyMember
	}
	return member, nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, scope store.MemberScope, scopeID, memberID, rawRole string) error {
	if err := required("role", rawRole); err != nil {
		return err
	}
	role, err := parseRole(rawRole, rbac.RoleNone)
	if err != nil {
		return err
	}
	return s.store.UpdateMemberRole(ctx, scope, scopeID, memberID, string(role))
}

func (s *Service) RemoveMember(ctx context.Context, scope store.MemberScope, scopeID, memberID string) error {
	return s.store.RemoveMember(ctx, scope, scopeID, memberID)
}

// Invites

type CreateInviteInput struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	ExpiresIn string `json:"expiresIn"`
}

func (s *Service) ListInvites(ctx context.Context, workspaceID string) ([]store.Invite, error) {
	return s.store.ListInvites(ctx, workspaceID)
}

// CreateInvite issues a random token for workspaceID. The notification mail
// is best effort: a delivery failure is logged and the invite stands.
func (s *Service) CreateInvite(ctx context.Context, identity auth.Identity, workspaceID string, input CreateInviteInput) (store.Invite, error) {
	role, err := parseRole(input.Role, rbac.RoleViewer)
	if err != nil {
		return store.Invite{}, err
	}
	ttl := s.inviteTTL
	if input.ExpiresIn != "" {
		ttl, err = time.ParseDuration(input.ExpiresIn)
		if err != nil || ttl <= 0 || ttl > maxInviteTTL {
			return store.Invite{}, invalidInput("expiresIn must be a positive duration up to 90 days", map[string]any{"expiresIn": input.ExpiresIn})
		}
	}
	invite, err := s.store.CreateInvite(ctx, store.Invite{
		Token:       util.NewToken(inviteTokenBytes),
		WorkspaceID: workspaceID,
		Role:        string(role),
		Email:       strings.ToLower(strings.TrimSpace(input.Email)),
		InvitedBy:   identity.UserID,
		ExpiresAt:   s.now().Add(ttl),
	})
	if err != nil {
		return store.Invite{}, err
	}
	s.notifyInvite(ctx, identity, invite)
	return invite, nil
}

func (s *Service) notifyInvite(ctx context.Context, identity auth.Identity, invite store.Invite) {
	if invite.Email == "" || s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	workspaceName := invite.WorkspaceID
	if ws, err := s.store.GetWorkspace(ctx, invite.WorkspaceID); err == nil {
		workspaceName = ws.Label
	}
	inviter := identity.Name
	if inviter == "" {
		inviter = identity.Email
	}
	err := s.mailer.SendInviteEmail(invite.Email, email.InviteData{
		WorkspaceName: workspaceName,
		InviterName:   inviter,
		Role:          invite.Role,
		AcceptURL:     s.acceptURL(invite.Token),
		ExpiresAt:     invite.ExpiresAt,
	})
	if err != nil {
		s.log.WithError(err).WithField("invite_id", invite.ID).Warn("send invite email")
	}
}

func (s *Service) acceptURL(token string) string {
	base := strings.TrimRight(s.inviteURL, "/")
	return base + "/" + url.PathEscape(token)
}

func (s *Service) DeleteInvite(ctx context.Context, workspaceID, inviteID string) error {
	return s.store.DeleteInvite(ctx, workspaceID, inviteID)
}

type AcceptInviteResult struct {
	Member  store.Member `json:"member"`
	Created bool         `json:"created"`
}

// AcceptInvite grants the invite's role to the caller. The invitee is not a
// member yet and cannot read the invite under row security, so the whole
// flow runs privileged. Accepting again returns the existing membership.
func (s *Service) AcceptInvite(ctx context.Context, identity auth.Identity, token string) (AcceptInviteResult, error) {
	if err := required("token", token); err != nil {
		return AcceptInviteResult{}, err
	}
	ctx = store.Privileged(ctx)
	invite, err := s.store.GetInviteByToken(ctx, token)
	if err != nil {
		return AcceptInviteResult{}, err
	}
	if !s.now().Before(invite.ExpiresAt) {
		return AcceptInviteResult{}, errInviteExpired
	}
	if invite.Email != "" && !strings.EqualFold(invite.Email, strings.TrimSpace(identity.Email)) {
		return AcceptInviteResult{}, errInviteEmailMismatch
	}

	existing, err := s.store.GetMembership(ctx, store.WorkspaceMembers, invite.WorkspaceID, identity.UserID)
	if err == nil {
		return AcceptInviteResult{Member: existing}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return AcceptInviteResult{}, err
	}

	member, created, err := s.store.AddMember(ctx, store.WorkspaceMembers, invite.WorkspaceID, identity.UserID, invite.Role)
	if err != nil {
		return AcceptInviteResult{}, err
	}
	return AcceptInviteResult{Member: member, Created: created}, nil
}

// Categories and stages

type LabelInput struct {
	Label string `json:"label"`
	Key   string `json:"key"`
}

func (s *Service) ListLabels(ctx context.Context, kind store.LabelKind, workspaceID string) ([]store.Label, error) {
	return s.store.ListLabels(ctx, kind, workspaceID)
}

func (s *Service) CreateLabel(ctx context.Context, kind store.LabelKind, workspaceID string, input LabelInput) (store.Label, error) {
	if err := required("label", input.Label); err != nil {
		return store.Label{}, err
	}
	key := strings.TrimSpace(input.Key)
	if key == "" {
		key = slugKey(input.Label)
	}
	return s.store.CreateLabel(ctx, kind, store.Label{WorkspaceID: workspaceID, Label: strings.TrimSpace(input.Label), Key: key})
}

func (s *Service) UpdateLabel(ctx context.Context, kind store.LabelKind, workspaceID, id string, input LabelInput) (store.Label, error) {
	if err := required("label", input.Label); err != nil {
		return store.Label{}, err
	}
	if err := required("key", input.Key); err != nil {
		return store.Label{}, err
	}
	item := store.Label{ID: id, WorkspaceID: workspaceID, Label: strings.TrimSpace(input.Label), Key: strings.TrimSpace(input.Key)}
	if err := s.store.UpdateLabel(ctx, kind, item); err != nil {
		return store.Label{}, err
	}
	return item, nil
}

func (s *Service) DeleteLabel(ctx context.Context, kind store.LabelKind, workspaceID, id string) error {
	return s.store.DeleteLabel(ctx, kind, workspaceID, id)
}

func slugKey(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Tasks

type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StageKey    string `json:"stageKey"`
	CategoryKey string `json:"categoryKey"`
	OwnerID     string `json:"ownerId"`
}

func (s *Service) ListTasks(ctx context.Context, workspaceID string) ([]store.Task, error) {
	return s.store.ListTasks(ctx, workspaceID)
}

// GetTask scopes the lookup to workspaceID so a task id from another
// workspace reads as not found.
func (s *Service) GetTask(ctx context.Context, workspaceID, id string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return store.Task{}, err
	}
	if task.WorkspaceID != workspaceID {
		return store.Task{}, sql.ErrNoRows
	}
	return task, nil
}

func (s *Service) CreateTask(ctx context.Context, identity auth.Identity, workspaceID string, input TaskInput) (store.Task, error) {
	if err := required("title", input.Title); err != nil {
		return store.Task{}, err
	}
	owner := input.OwnerID
	if owner == "" {
		owner = identity.UserID
	}
	task, err := s.store.CreateTask(ctx, store.Task{
		WorkspaceID: workspaceID,
		OwnerID:     owner,
		StageKey:    input.StageKey,
		CategoryKey: input.CategoryKey,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
	})
	if err != nil {
		return store.Task{}, err
	}
	s.taskChanged(ctx, task)
	return task, nil
}

func (s *Service) UpdateTask(ctx context.Context, workspaceID, id string, input TaskInput) (store.Task, error) {
	if err := required("title", input.Title); err != nil {
		return store.Task{}, err
	}
	current, err := s.GetTask(ctx, workspaceID, id)
	if err != nil {
		return store.Task{}, err
	}
	current.Title = strings.TrimSpace(input.Title)
	current.Description = input.Description
	current.StageKey = input.StageKey
	current.CategoryKey = input.CategoryKey
	if input.OwnerID != "" {
		current.OwnerID = input.OwnerID
	}
	task, err := s.store.UpdateTask(ctx, current)
	if err != nil {
		return store.Task{}, err
	}
	s.taskChanged(ctx, task)
	return task, nil
}

func (s *Service) DeleteTask(ctx context.Context, workspaceID, id string) error {
	if err := s.store.DeleteTask(ctx, workspaceID, id); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTask(id)
	}
	return nil
}

// taskChanged refreshes the search index and schedules a new summary.
func (s *Service) taskChanged(ctx context.Context, task store.Task) {
	if s.search != nil {
		s.search.IndexTask(task)
	}
	s.requestSummary(ctx, task.ID)
}

func (s *Service) requestSummary(ctx context.Context, taskID string) {
	if s.summaries == nil {
		return
	}
	if err := s.summaries.Request(ctx, taskID); err != nil {
		s.log.WithError(err).WithField("task_id", taskID).Warn("request task summary")
	}
}

func (s *Service) ListComments(ctx context.Context, workspaceID, taskID string) ([]store.TaskComment, error) {
	if _, err := s.GetTask(ctx, workspaceID, taskID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, taskID)
}

func (s *Service) CreateComment(ctx context.Context, identity auth.Identity, workspaceID, taskID, content string) (store.TaskComment, error) {
	if err := required("content", content); err != nil {
		return store.TaskComment{}, err
	}
	if _, err := s.GetTask(ctx, workspaceID, taskID); err != nil {
		return store.TaskComment{}, err
	}
	comment, err := s.store.CreateComment(ctx, store.TaskComment{TaskID: taskID, AuthorID: identity.UserID, Content: content})
	if err != nil {
		return store.TaskComment{}, err
	}
	s.requestSummary(ctx, taskID)
	return comment, nil
}

func (s *Service) UpdateComment(ctx context.Context, workspaceID, taskID, id, content string) error {
	if err := required("content", content); err != nil {
		return err
	}
	if _, err := s.GetTask(ctx, workspaceID, taskID); err != nil {
		return err
	}
	if err := s.store.UpdateComment(ctx, taskID, id, content); err != nil {
		return err
	}
	s.requestSummary(ctx, taskID)
	return nil
}

func (s *Service) DeleteComment(ctx context.Context, workspaceID, taskID, id string) error {
	if _, err := s.GetTask(ctx, workspaceID, taskID); err != nil {
		return err
	}
	if err := s.store.DeleteComment(ctx, taskID, id); err != nil {
		return err
	}
	s.requestSummary(ctx, taskID)
	return nil
}

func (s *Service) GetTaskSummary(ctx context.Context, workspaceID, taskID string) (store.TaskSummary, error) {
	if _, err := s.GetTask(ctx, workspaceID, taskID); err != nil {
		return store.TaskSummary{}, err
	}
	return s.store.GetTaskSummary(ctx, taskID)
}

// SearchTasks queries the index, falling back to full-text search, with the
// caller's task visibility applied either way.
func (s *Service) SearchTasks(ctx context.Context, identity auth.Identity, workspaceID, text string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, errSearchDisabled
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(ctx, search.Query{
		Text:        text,
		WorkspaceID: workspaceID,
		Limit:       limit,
		Offset:      offset,
		UserID:      identity.UserID,
		Privileged:  identity.Staff,
	}), nil
}

// Chores

type ChoreInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CategoryKey string `json:"categoryKey"`
	Recurrence  string `json:"recurrence"`
	Schedule    string `json:"schedule"`
}

func validateSchedule(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	if _, err := scheduler.ParseSchedule(expr); err != nil {
		return invalidInput("Invalid cron schedule", map[string]any{"schedule": expr, "reason": err.Error()})
	}
	return nil
}

func (s *Service) ListChores(ctx context.Context, workspaceID string) ([]store.Chore, error) {
	return s.store.ListChores(ctx, workspaceID)
}

func (s *Service) GetChore(ctx context.Context, workspaceID, id string) (store.Chore, error) {
	chore, err := s.store.GetChore(ctx, id)
	if err != nil {
		return store.Chore{}, err
	}
	if chore.WorkspaceID != workspaceID {
		return store.Chore{}, sql.ErrNoRows
	}
	return chore, nil
}

func (s *Service) CreateChore(ctx context.Context, workspaceID string, input ChoreInput) (store.Chore, error) {
	if err := required("title", input.Title); err != nil {
		return store.Chore{}, err
	}
	if err := validateSchedule(input.Schedule); err != nil {
		return store.Chore{}, err
	}
	return s.store.CreateChore(ctx, store.Chore{
		WorkspaceID: workspaceID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		CategoryKey: input.CategoryKey,
		Recurrence:  input.Recurrence,
		Schedule:    strings.TrimSpace(input.Schedule),
	})
}

func (s *Service) UpdateChore(ctx context.Context, workspaceID, id string, input ChoreInput) (store.Chore, error) {
	if err := required("title", input.Title); err != nil {
		return store.Chore{}, err
	}
	if err := validateSchedule(input.Schedule); err != nil {
		return store.Chore{}, err
	}
	chore, err := s.GetChore(ctx, workspaceID, id)
	if err != nil {
		return store.Chore{}, err
	}
	chore.Title = strings.TrimSpace(input.Title)
	chore.Description = input.Description
	chore.CategoryKey = input.CategoryKey
	chore.Recurrence = input.Recurrence
	chore.Schedule = strings.TrimSpace(input.Schedule)
	if err := s.store.UpdateChore(ctx, chore); err != nil {
		return store.Chore{}, err
	}
	return chore, nil
}

func (s *Service) DeleteChore(ctx context.Context, workspaceID, id string) error {
	return s.store.DeleteChore(ctx, workspaceID, id)
}

func (s *Service) ListResponsibles(ctx context.Context, workspaceID, choreID string) ([]store.ChoreResponsible, error) {
	if _, err := s.GetChore(ctx, workspaceID, choreID); err != nil {
		return nil, err
	}
	return s.store.ListResponsibles(ctx, choreID)
}

func (s *Service) AddResponsible(ctx context.Context, workspaceID, choreID, userID string) (store.ChoreResponsible, error) {
	if err := required("userId", userID); err != nil {
		return store.ChoreResponsible{}, err
	}
	if _, err := s.GetChore(ctx, workspaceID, choreID); err != nil {
		return store.ChoreResponsible{}, err
	}
	return s.store.AddResponsible(ctx, choreID, userID)
}

func (s *Service) RemoveResponsible(ctx context.Context, workspaceID, choreID, id string) error {
	if _, err := s.GetChore(ctx, workspaceID, choreID); err != nil {
		return err
	}
	return s.store.RemoveResponsible(ctx, choreID, id)
}

// Assignments

type AssignmentInput struct {
	ChoreID string `json:"choreId"`
	UserID  string `json:"userId"`
}

func (s *Service) ListAssignments(ctx context.Context, filter store.AssignmentFilter) ([]store.Assignment, error) {
	return s.store.ListAssignments(ctx, filter)
}

func (s *Service) GetAssignment(ctx context.Context, workspaceID, id string) (store.Assignment, error) {
	item, err := s.store.GetAssignment(ctx, id)
	if err != nil {
		return store.Assignment{}, err
	}
	if item.WorkspaceID != workspaceID {
		return store.Assignment{}, sql.ErrNoRows
	}
	return item, nil
}

// CreateAssignment assigns a chore by hand. Scheduled occurrences go through
// the scheduler instead.
func (s *Service) CreateAssignment(ctx context.Context, identity auth.Identity, workspaceID string, input AssignmentInput) (store.Assignment, error) {
	if err := required("choreId", input.ChoreID); err != nil {
		return store.Assignment{}, err
	}
	if _, err := s.GetChore(ctx, workspaceID, input.ChoreID); err != nil {
		return store.Assignment{}, err
	}
	userID := input.UserID
	if userID == "" {
		userID = identity.UserID
	}
	item, _, err := s.store.CreateAssignment(ctx, store.Assignment{ChoreID: input.ChoreID, UserID: userID})
	return item, err
}

func parseStatus(raw string) (store.AssignmentStatus, error) {
	status := store.AssignmentStatus(strings.TrimSpace(raw))
	if !status.Valid() {
		return "", invalidInput("Unknown status", map[string]any{"status": raw})
	}
	return status, nil
}

func (s *Service) UpdateAssignmentStatus(ctx context.Context, workspaceID, id, rawStatus string) (store.Assignment, error) {
	status, err := parseStatus(rawStatus)
	if err != nil {
		return store.Assignment{}, err
	}
	if _, err := s.GetAssignment(ctx, workspaceID, id); err != nil {
		return store.Assignment{}, err
	}
	if err := s.store.UpdateAssignmentStatus(ctx, id, status); err != nil {
		return store.Assignment{}, err
	}
	return s.GetAssignment(ctx, workspaceID, id)
}

func (s *Service) DeleteAssignment(ctx context.Context, workspaceID, id string) error {
	return s.store.DeleteAssignment(ctx, workspaceID, id)
}

type SubmissionInput struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (s *Service) ListSubmissions(ctx context.Context, workspaceID, assignmentID string) ([]store.Submission, error) {
	if _, err := s.GetAssignment(ctx, workspaceID, assignmentID); err != nil {
		return nil, err
	}
	return s.store.ListSubmissions(ctx, assignmentID)
}

func (s *Service) CreateSubmission(ctx context.Context, identity auth.Identity, workspaceID, assignmentID string, input SubmissionInput) (store.Submission, error) {
	status, err := parseStatus(input.Status)
	if err != nil {
		return store.Submission{}, err
	}
	if _, err := s.GetAssignment(ctx, workspaceID, assignmentID); err != nil {
		return store.Submission{}, err
	}
	return s.store.CreateSubmission(ctx, store.Submission{
		AssignmentID: assignmentID,
		UserID:       identity.UserID,
		Status:       status,
		Notes:        input.Notes,
	})
}

// Files

func (s *Service) ListFiles(ctx context.Context, workspaceID string) ([]store.WorkspaceFile, error) {
	return s.store.ListFiles(ctx, workspaceID)
}

// UploadFile writes the object first and the row second; a rejected row
// removes the object again.
func (s *Service) UploadFile(ctx context.Context, identity auth.Identity, workspaceID, name, contentType string, size int64, body io.Reader) (store.WorkspaceFile, error) {
	if s.files == nil {
		return store.WorkspaceFile{}, filestore.ErrNotConfigured
	}
	if err := required("name", name); err != nil {
		return store.WorkspaceFile{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := filestore.ObjectKey(workspaceID, name)
	if err := s.files.Put(ctx, key, body, size, contentType); err != nil {
		return store.WorkspaceFile{}, err
	}
	item, err := s.store.CreateFile(ctx, store.WorkspaceFile{
		WorkspaceID: workspaceID,
		Name:        name,
		ObjectKey:   key,
		ContentType: contentType,
		Size:        size,
		CreatedBy:   identity.UserID,
	})
	if err != nil {
		if delErr := s.files.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.log.WithError(delErr).WithField("object_key", key).Warn("remove orphaned object")
		}
		return store.WorkspaceFile{}, err
	}
	return item, nil
}

// OpenFile returns the row, checked under row security, and its content.
func (s *Service) OpenFile(ctx context.Context, workspaceID, id string) (store.WorkspaceFile, io.ReadCloser, error) {
	if s.files == nil {
		return store.WorkspaceFile{}, nil, filestore.ErrNotConfigured
	}
	item, err := s.store.GetFile(ctx, workspaceID, id)
	if err != nil {
		return store.WorkspaceFile{}, nil, err
	}
	body, err := s.files.Get(ctx, item.ObjectKey)
	if err != nil {
		return store.WorkspaceFile{}, nil, err
	}
	return item, body, nil
}

func (s *Service) DeleteFile(ctx context.Context, workspaceID, id string) error {
	item, err := s.store.GetFile(ctx, workspaceID, id)
	if err != nil {
		return err
	}
	tasks, err := s.store.FileTaskIDs(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFile(ctx, workspaceID, id); err != nil {
		return err
	}
	for _, taskID := range tasks {
		s.touch(ctx, cache.TaskFilesPath(workspaceID, taskID))
	}
	if s.files != nil {
		if err := s.files.Delete(ctx, item.ObjectKey); err != nil {
			s.log.WithError(err).WithField("object_key", item.ObjectKey).Warn("delete object")
		}
	}
	return nil
}
