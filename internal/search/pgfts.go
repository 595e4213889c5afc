package search

import (
	"context"

	"dotproj/api/internal/store"
)

type taskSearcher interface {
	SearchTasks(ctx context.Context, workspaceID, query string, limit int) ([]store.Task, error)
}

// PgFTS searches tasks with Postgres full-text search. It runs on the
// request's bound connection, so row security already limits the hits.
type PgFTS struct {
	store taskSearcher
}

func NewPgFTS(st taskSearcher) *PgFTS {
	return &PgFTS{store: st}
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	tasks, err := p.store.SearchTasks(ctx, q.WorkspaceID, q.Text, q.Limit+q.Offset)
	if err != nil {
		return nil, 0, err
	}
	if q.Offset >= len(tasks) {
		return []Result{}, len(tasks), nil
	}
	tasks = tasks[q.Offset:]
	results := make([]Result, 0, len(tasks))
	for _, t := range tasks {
		results = append(results, resultFromTask(t))
	}
	return results, len(results) + q.Offset, nil
}
