package search

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"dotproj/api/internal/policy"
	"dotproj/api/internal/store"
)

const (
	SourceMeili = "meilisearch"
	SourcePG    = "postgres"
)

// Service tries Meilisearch first and falls back to Postgres full-text
// search. Index hits pass through the task select rule before they are
// returned, since the index has no row security.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	lookup policy.Lookup
	log    *logrus.Entry
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, lookup policy.Lookup, log *logrus.Entry) *Service {
	return &Service{meili: meili, pgfts: pgfts, lookup: lookup, log: log}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}

	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			if !q.Privileged {
				results, err = s.visible(ctx, q.UserID, results)
				total = len(results)
			}
			if err == nil {
				return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}
			}
		}
		s.log.WithError(err).Warn("search: meilisearch failed, falling back to postgres")
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.WithError(err).Error("search: postgres full-text search failed")
		return Response{Results: []Result{}, Query: q.Text, Source: SourcePG}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourcePG}
}

// visible keeps the hits userID may select.
func (s *Service) visible(ctx context.Context, userID string, results []Result) ([]Result, error) {
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		ok, err := policy.Allowed(ctx, s.lookup, policy.Task, policy.Select, userID, policy.Row{
			"workspace_id": r.WorkspaceID,
			"owner_id":     r.ownerID,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// IndexTask indexes a task (fire-and-forget to Meilisearch).
func (s *Service) IndexTask(t store.Task) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTasks([]TaskRecord{RecordFromTask(t)}); err != nil {
			s.log.WithError(err).WithField("task_id", t.ID).Warn("search: index task")
		}
	}()
}

// DeleteTask removes a task from the index (fire-and-forget).
func (s *Service) DeleteTask(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTask(id); err != nil {
			s.log.WithError(err).WithField("task_id", id).Warn("search: delete task")
		}
	}()
}

type taskLister interface {
	ListWorkspaceIDs(ctx context.Context) ([]string, error)
	ListTasks(ctx context.Context, workspaceID string) ([]store.Task, error)
}

// Reindex pushes every task into Meilisearch. ctx must be privileged.
func (s *Service) Reindex(ctx context.Context, st taskLister) (int, error) {
	if s.meili == nil || !s.meili.Healthy() {
		return 0, nil
	}
	ids, err := st.ListWorkspaceIDs(ctx)
	if err != nil {
		return 0, err
	}
	indexed := 0
	for _, id := range ids {
		tasks, err := st.ListTasks(ctx, id)
		if err != nil {
			return indexed, err
		}
		records := make([]TaskRecord, 0, len(tasks))
		for _, t := range tasks {
			records = append(records, RecordFromTask(t))
		}
		if err := s.meili.IndexTasks(records); err != nil {
			return indexed, err
		}
		indexed += len(records)
	}
	return indexed, nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
