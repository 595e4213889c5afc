package search

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotproj/api/internal/rbac"
	"dotproj/api/internal/store"
)

type roleLookup map[string]rbac.Role

func (l roleLookup) WorkspaceRole(_ context.Context, workspaceID, userID string) (rbac.Role, error) {
	return l[workspaceID+"|"+userID], nil
}

func (l roleLookup) OrganizationRole(context.Context, string, string) (rbac.Role, error) {
	return rbac.RoleNone, nil
}

func (l roleLookup) IsAssigned(context.Context, string, string, string) (bool, error) {
	return false, nil
}

type fakeTasks struct {
	tasks []store.Task
	err   error
	limit int
}

func (f *fakeTasks) SearchTasks(_ context.Context, workspaceID, query string, limit int) ([]store.Task, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	out := make([]store.Task, 0)
	for _, t := range f.tasks {
		if workspaceID == "" || t.WorkspaceID == workspaceID {
			out = append(out, t)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func quietLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestSearchFallsBackToPostgres(t *testing.T) {
	st := &fakeTasks{tasks: []store.Task{
		{ID: "t1", WorkspaceID: "w1", Title: "Fix sink", Description: "kitchen"},
		{ID: "t2", WorkspaceID: "w2", Title: "Fix door"},
	}}
	svc := NewService(nil, NewPgFTS(st), roleLookup{}, quietLog())

	resp := svc.Search(context.Background(), Query{Text: "  fix ", WorkspaceID: "w1"})
	assert.Equal(t, SourcePG, resp.Source)
	assert.Equal(t, "fix", resp.Query)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "t1", resp.Results[0].ID)
	assert.Equal(t, "kitchen", resp.Results[0].Snippet)
	assert.Equal(t, 20, st.limit)
}

func TestSearchEmptyTextAndErrors(t *testing.T) {
	st := &fakeTasks{err: errors.New("db down")}
	svc := NewService(nil, NewPgFTS(st), roleLookup{}, quietLog())

	resp := svc.Search(context.Background(), Query{Text: "   "})
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)

	resp = svc.Search(context.Background(), Query{Text: "fix"})
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.Total)
}

func TestSearchOffset(t *testing.T) {
	st := &fakeTasks{tasks: []store.Task{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	svc := NewService(nil, NewPgFTS(st), roleLookup{}, quietLog())

	resp := svc.Search(context.Background(), Query{Text: "x", Limit: 2, Offset: 2})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c", resp.Results[0].ID)
	assert.Equal(t, 4, st.limit)
}

func TestVisibleAppliesTaskRule(t *testing.T) {
	lookup := roleLookup{
		"w1|viewer":  rbac.RoleViewer,
		"w1|manager": rbac.RoleManager,
	}
	svc := NewService(nil, nil, lookup, quietLog())
	hits := []Result{
		{ID: "own", WorkspaceID: "w1", ownerID: "viewer"},
		{ID: "other", WorkspaceID: "w1", ownerID: "someone"},
		{ID: "foreign", WorkspaceID: "w2", ownerID: "viewer"},
	}

	got, err := svc.visible(context.Background(), "viewer", hits)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "own", got[0].ID)

	got, err = svc.visible(context.Background(), "manager", hits)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = svc.visible(context.Background(), "", hits)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSnippetTruncatesRunes(t *testing.T) {
	assert.Equal(t, "short", snippet("short", 10))
	assert.Equal(t, "äöü…", snippet("äöüß", 3))
}
