package summary

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotproj/api/internal/cache"
	"dotproj/api/internal/jobs"
	"dotproj/api/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	tasks     map[string]store.Task
	comments  map[string][]store.TaskComment
	summaries map[string]string
}

func (f *fakeStore) GetTaskWithComments(_ context.Context, taskID string) (store.Task, []store.TaskComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return store.Task{}, nil, sql.ErrNoRows
	}
	return task, f.comments[taskID], nil
}

func (f *fakeStore) SaveTaskSummary(_ context.Context, taskID, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[taskID] = summary
	return nil
}

type env struct {
	store  *fakeStore
	queue  *jobs.Queue
	cache  *cache.RedisStore
	mr     *miniredis.Miniredis
	log    *logrus.Entry
	clock  *time.Time
	server *httptest.Server

	mu     sync.Mutex
	bodies []taskPayload
}

func (e *env) received() []taskPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]taskPayload(nil), e.bodies...)
}

func setup(t *testing.T, handler http.HandlerFunc) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	clock := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	e := &env{
		store: &fakeStore{
			tasks: map[string]store.Task{
				"t1": {ID: "t1", WorkspaceID: "w1", Title: "Fix the sink", Description: "It drips"},
			},
			comments: map[string][]store.TaskComment{
				"t1": {{ID: "k1", TaskID: "t1", AuthorID: "u1", Content: "Bought a washer"}},
			},
			summaries: map[string]string{},
		},
		queue: jobs.NewQueue(client, jobs.QueueOptions{Now: func() time.Time { return clock }}),
		cache: cache.NewRedisStore(client, cache.StoreOptions{}),
		mr:    mr,
		log:   logrus.NewEntry(logger),
		clock: &clock,
	}
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			var p taskPayload
			_ = json.NewDecoder(r.Body).Decode(&p)
			e.mu.Lock()
			e.bodies = append(e.bodies, p)
			e.mu.Unlock()
			_ = json.NewEncoder(w).Encode(summaryResponse{Summary: "Sink repair in progress."})
		}
	}
	e.server = httptest.NewServer(handler)
	t.Cleanup(e.server.Close)
	return e
}

func (e *env) summarizer() *Summarizer {
	inv := cache.NewInvalidator(cache.MustResolver(cache.DefaultTemplates), e.cache)
	return New(e.store, e.queue, inv, Options{
		URL:    e.server.URL + "/",
		Delay:  30 * time.Second,
		Logger: e.log,
		Now:    func() time.Time { return *e.clock },
	})
}

func TestGenerateStoresSummaryAndDropsKey(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()
	s := e.summarizer()

	key := "/api/workspaces/w1/tasks/t1/summary/"
	_, err := e.cache.Current(ctx, key)
	require.NoError(t, err)

	require.NoError(t, s.Generate(ctx, "t1"))
	assert.Equal(t, "Sink repair in progress.", e.store.summaries["t1"])
	assert.False(t, e.mr.Exists("resource-timestamps:"+key))

	bodies := e.received()
	require.Len(t, bodies, 1)
	assert.Equal(t, "Fix the sink", bodies[0].Title)
	require.Len(t, bodies[0].Comments, 1)
	assert.Equal(t, "Bought a washer", bodies[0].Comments[0].Content)
}

func TestRequestCoalescesAndRunsThroughWorker(t *testing.T) {
	e := setup(t, nil)
	ctx := context.Background()
	s := e.summarizer()

	require.NoError(t, s.Request(ctx, "t1"))
	require.NoError(t, s.Request(ctx, "t1"))

	pending, err := e.queue.Pending(ctx, Queue)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, JobID("t1"), pending[0].ID)

	w := jobs.NewWorker(e.queue, jobs.WorkerOptions{Queues: []string{Queue}, Logger: e.log})
	s.Register(w)

	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "delayed")

	*e.clock = e.clock.Add(time.Minute)
	n, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, e.received(), 1)
}

func TestGenerateUpstreamErrors(t *testing.T) {
	e := setup(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	s := e.summarizer()
	err := s.Generate(context.Background(), "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Empty(t, e.store.summaries)
}

func TestGenerateMissingTask(t *testing.T) {
	e := setup(t, nil)
	err := e.summarizer().Generate(context.Background(), "gone")
	require.Error(t, err)
	assert.Empty(t, e.received())
}

func TestDisabledSummarizerSkipsRequests(t *testing.T) {
	e := setup(t, nil)
	s := New(e.store, e.queue, nil, Options{Logger: e.log})
	assert.False(t, s.Enabled())
	require.NoError(t, s.Request(context.Background(), "t1"))

	pending, err := e.queue.Pending(context.Background(), Queue)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
