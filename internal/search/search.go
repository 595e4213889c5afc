package search

import (
	"dotproj/api/internal/store"
)

// Result is a single task hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	StageKey    string `json:"stageKey"`
	CategoryKey string `json:"categoryKey"`

	ownerID string
}

// Query describes a search request. UserID is the caller whose task
// visibility applies to index hits; Privileged callers see every hit.
type Query struct {
	Text        string
	WorkspaceID string
	Limit       int
	Offset      int
	UserID      string
	Privileged  bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	OwnerID     string `json:"ownerId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StageKey    string `json:"stageKey"`
	CategoryKey string `json:"categoryKey"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func RecordFromTask(t store.Task) TaskRecord {
	return TaskRecord{
		ID:          t.ID,
		WorkspaceID: t.WorkspaceID,
		OwnerID:     t.OwnerID,
		Title:       t.Title,
		Description: t.Description,
		StageKey:    t.StageKey,
		CategoryKey: t.CategoryKey,
		UpdatedAt:   t.UpdatedAt.Unix(),
	}
}

func resultFromTask(t store.Task) Result {
	return Result{
		ID:          t.ID,
		WorkspaceID: t.WorkspaceID,
		Title:       t.Title,
		Snippet:     snippet(t.Description, 160),
		StageKey:    t.StageKey,
		CategoryKey: t.CategoryKey,
		ownerID:     t.OwnerID,
	}
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
