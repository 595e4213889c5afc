package store

import (
	"encoding/json"
	"time"
)

type AssignmentStatus string

const (
	StatusPending   AssignmentStatus = "pending"
	StatusDoing     AssignmentStatus = "doing"
	StatusDone      AssignmentStatus = "done"
	StatusCancelled AssignmentStatus = "cancelled"
)

func (s AssignmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDoing, StatusDone, StatusCancelled:
		return true
	default:
		return false
	}
}

// Closed reports the closed flag implied by the status.
func (s AssignmentStatus) Closed() bool {
	return s == StatusDone || s == StatusCancelled
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsStaff   bool      `json:"isStaff"`
	CreatedAt time.Time `json:"createdAt"`
}

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Workspace struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Label          string    `json:"label"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Member is a workspace or organization membership; ScopeID holds the
// workspace or organization id.
type Member struct {
	ID        string    `json:"id"`
	ScopeID   string    `json:"scopeId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type Invite struct {
	ID          string    `json:"id"`
	Token       string    `json:"token"`
	WorkspaceID string    `json:"workspaceId"`
	Role        string    `json:"role"`
	Email       string    `json:"email"`
	InvitedBy   string    `json:"invitedBy,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Label is the shape shared by categories and stages.
type Label struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Label       string `json:"label"`
	Key         string `json:"key"`
}

type Task struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	OwnerID     string    `json:"ownerId,omitempty"`
	StageKey    string    `json:"stageKey"`
	CategoryKey string    `json:"categoryKey"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type TaskComment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	AuthorID  string    `json:"authorId,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type TaskSummary struct {
	TaskID    string    `json:"taskId"`
	Summary   string    `json:"summary"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Chore struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CategoryKey string    `json:"categoryKey"`
	Recurrence  string    `json:"recurrence"`
	Schedule    string    `json:"schedule"`
	CreatedAt   time.Time `json:"createdAt"`
}

type ChoreResponsible struct {
	ID      string `json:"id"`
	ChoreID string `json:"choreId"`
	UserID  string `json:"userId"`
}

// ChoreSchedule is the scheduler's view of a chore: its cron schedule and
// every responsible user.
type ChoreSchedule struct {
	ChoreID     string
	WorkspaceID string
	Schedule    string
	UserIDs     []string
}

type Assignment struct {
	ID          string           `json:"id"`
	WorkspaceID string           `json:"workspaceId"`
	ChoreID     string           `json:"choreId"`
	UserID      string           `json:"userId,omitempty"`
	Status      AssignmentStatus `json:"status"`
	Closed      bool             `json:"closed"`
	AssignedAt  time.Time        `json:"assignedAt"`
}

type Submission struct {
	ID           string           `json:"id"`
	AssignmentID string           `json:"assignmentId"`
	UserID       string           `json:"userId,omitempty"`
	Status       AssignmentStatus `json:"status"`
	Notes        string           `json:"notes"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type WorkspaceFile struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Name        string    `json:"name"`
	ObjectKey   string    `json:"-"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Form is a workspace form definition. Fields holds the client's field
// layout as raw JSON.
type Form struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspaceId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Fields      json.RawMessage `json:"fields"`
	CategoryKey string          `json:"categoryKey"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type FormSubmission struct {
	ID          string          `json:"id"`
	FormID      string          `json:"formId"`
	WorkspaceID string          `json:"workspaceId"`
	Data        json.RawMessage `json:"data"`
	SubmitterID string          `json:"submitterId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Process is a workflow definition. Steps is a JSON object keyed by step
// key; an instance's StageKey names one of them.
type Process struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspaceId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Steps       json.RawMessage `json:"steps"`
	CategoryKey string          `json:"categoryKey"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type ProcessInstance struct {
	ID          string          `json:"id"`
	ProcessID   string          `json:"processId"`
	WorkspaceID string          `json:"workspaceId"`
	Data        json.RawMessage `json:"data"`
	StageKey    string          `json:"stageKey"`
	InitiatorID string          `json:"initiatorId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// TaskFile links a workspace file to a task and, optionally, to the comment
// it was attached to. Name, ContentType and Size come from the file row.
type TaskFile struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"taskId"`
	CommentID   string    `json:"commentId,omitempty"`
	FileID      string    `json:"fileId"`
	OwnerID     string    `json:"ownerId,omitempty"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	ObjectKey   string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

type AssignmentFilter struct {
	WorkspaceID string
	ChoreID     string
	UserID      string
	OpenOnly    bool
}
