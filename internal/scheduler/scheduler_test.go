package scheduler

import (
	"context"
	"database/sql"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotproj/api/internal/jobs"
	"dotproj/api/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	workspaces  []string
	schedules   map[string][]store.ChoreSchedule
	assignments map[string]store.Assignment
}

func newFakeStore() *fakeStore {
	return &fakeStore{schedules: map[string][]store.ChoreSchedule{}, assignments: map[string]store.Assignment{}}
}

func (f *fakeStore) addChore(ws, chore, schedule string, users ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := false
	for _, id := range f.workspaces {
		found = found || id == ws
	}
	if !found {
		f.workspaces = append(f.workspaces, ws)
	}
	f.schedules[ws] = append(f.schedules[ws], store.ChoreSchedule{ChoreID: chore, WorkspaceID: ws, Schedule: schedule, UserIDs: users})
}

func (f *fakeStore) ListWorkspaceIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.workspaces...), nil
}

func (f *fakeStore) ListChoreSchedules(_ context.Context, workspaceID string) ([]store.ChoreSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.schedules[workspaceID], nil
}

func (f *fakeStore) CreateAssignment(_ context.Context, item store.Assignment) (store.Assignment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.assignments[item.ID]; ok {
		return existing, false, nil
	}
	for ws, items := range f.schedules {
		for _, c := range items {
			if c.ChoreID == item.ChoreID {
				item.WorkspaceID = ws
				item.Status = store.StatusPending
				f.assignments[item.ID] = item
				return item, true, nil
			}
		}
	}
	return store.Assignment{}, false, sql.ErrNoRows
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.assignments)
}

type fakeInvalidator struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeInvalidator) Touch(_ context.Context, path string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return []string{path}, nil
}

type harness struct {
	store *fakeStore
	inv   *fakeInvalidator
	queue *jobs.Queue
	sched *Scheduler
	clock *time.Time
	log   *logrus.Entry
}

// Wednesday 2026-03-04 12:00 UTC.
var wednesday = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, loc *time.Location) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := wednesday
	now := func() time.Time { return clock }
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	log := logrus.NewEntry(logger)

	h := &harness{store: newFakeStore(), inv: &fakeInvalidator{}, clock: &clock, log: log}
	h.queue = jobs.NewQueue(client, jobs.QueueOptions{Now: now})
	h.sched = New(h.store, h.queue, h.inv, Options{Location: loc, Logger: log, Now: now})
	return h
}

func (h *harness) drain(t *testing.T, w *jobs.Worker) {
	t.Helper()
	for i := 0; i < 10; i++ {
		n, err := w.ProcessOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
	t.Fatal("worker did not drain")
}

func TestRepeatedTicksScheduleOneAssignment(t *testing.T) {
	h := setup(t, time.UTC)
	h.store.addChore("w1", "c1", "0 0 * * 1", "u1")
	ctx := context.Background()

	n, err := h.sched.ManageAssignments(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	*h.clock = h.clock.Add(30 * time.Second)
	_, err = h.sched.ManageAssignments(ctx, "w1")
	require.NoError(t, err)

	pending, err := h.queue.Pending(ctx, QueueAssigned)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	monday := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, CreateJobID("c1", "u1", monday), pending[0].ID)
	assert.True(t, pending[0].RunAt.Equal(monday))
	assert.True(t, pending[0].Once)

	w := jobs.NewWorker(h.queue, jobs.WorkerOptions{Queues: []string{QueueAssigned}, Logger: h.log})
	h.sched.Register(w)

	h.drain(t, w)
	assert.Equal(t, 0, h.store.count(), "occurrence not due yet")

	*h.clock = monday
	h.drain(t, w)
	assert.Equal(t, 1, h.store.count())
	assert.Equal(t, []string{"/api/workspaces/w1/assignments/", "/api/workspaces/w1/chores/c1/"}, h.inv.paths)

	_, err = h.queue.Enqueue(ctx, pending[0])
	require.NoError(t, err)
	h.drain(t, w)
	assert.Equal(t, 1, h.store.count())
}

func TestInvalidScheduleSkipsOnlyItsPairs(t *testing.T) {
	h := setup(t, time.UTC)
	h.store.addChore("w1", "bad", "every now and then", "u1", "u2")
	h.store.addChore("w1", "good", "@daily", "u1", "u2")
	h.store.addChore("w1", "nobody", "@daily")

	n, err := h.sched.ManageAssignments(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := h.queue.Pending(context.Background(), QueueAssigned)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, job := range pending {
		var args Occurrence
		require.NoError(t, job.Decode(&args))
		assert.Equal(t, "good", args.ChoreID)
		assert.True(t, args.At.Equal(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)))
	}
}

func TestScheduleUsesLocation(t *testing.T) {
	h := setup(t, time.FixedZone("UTC+2", 2*60*60))
	h.store.addChore("w1", "c1", "0 0 * * 1", "u1")

	_, err := h.sched.ManageAssignments(context.Background(), "w1")
	require.NoError(t, err)

	pending, err := h.queue.Pending(context.Background(), QueueAssigned)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].RunAt.Equal(time.Date(2026, 3, 8, 22, 0, 0, 0, time.UTC)))
}

func TestTickFansOutPerWorkspace(t *testing.T) {
	h := setup(t, time.UTC)
	h.store.addChore("w1", "c1", "@daily", "u1")
	h.store.addChore("w2", "c2", "@daily", "u1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.sched.Tick(ctx)
		require.NoError(t, err)
	}
	pending, err := h.queue.Pending(ctx, QueueChore)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.ElementsMatch(t, []string{ManageJobID("w1"), ManageJobID("w2")}, []string{pending[0].ID, pending[1].ID})
}

func TestTickToAssignmentThroughWorker(t *testing.T) {
	h := setup(t, time.UTC)
	h.store.addChore("w1", "c1", "@daily", "u1", "u2")
	ctx := context.Background()

	w := jobs.NewWorker(h.queue, jobs.WorkerOptions{
		Queues: []string{QueueScheduler, QueueChore, QueueAssigned},
		Logger: h.log,
	})
	h.sched.Register(w)

	require.NoError(t, h.sched.EnqueueTick(ctx))
	require.NoError(t, h.sched.EnqueueTick(ctx))
	h.drain(t, w)

	*h.clock = h.clock.Add(30 * time.Second)
	require.NoError(t, h.sched.EnqueueTick(ctx))
	h.drain(t, w)

	pending, err := h.queue.Pending(ctx, QueueAssigned)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	*h.clock = time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	h.drain(t, w)
	assert.Equal(t, 2, h.store.count())
}

func TestCreateAssignmentIsIdempotent(t *testing.T) {
	h := setup(t, time.UTC)
	h.store.addChore("w1", "c1", "@daily", "u1")
	occ := Occurrence{WorkspaceID: "w1", ChoreID: "c1", UserID: "u1", At: wednesday}

	first, err := h.sched.CreateAssignment(context.Background(), occ)
	require.NoError(t, err)
	second, err := h.sched.CreateAssignment(context.Background(), occ)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, store.AssignmentID("c1", "u1", wednesday), first.ID)
	assert.False(t, first.Closed)
	assert.Equal(t, 1, h.store.count())
	assert.Equal(t, []string{"/api/workspaces/w1/assignments/", "/api/workspaces/w1/chores/c1/"}, h.inv.paths)
}

func TestCreateAssignmentForDeletedChore(t *testing.T) {
	h := setup(t, time.UTC)
	_, err := h.sched.CreateAssignment(context.Background(), Occurrence{WorkspaceID: "w1", ChoreID: "gone", UserID: "u1", At: wednesday})
	assert.Error(t, err)
	assert.Empty(t, h.inv.paths)
}

func TestParseSchedule(t *testing.T) {
	_, err := ParseSchedule("0 0 * * 1")
	assert.NoError(t, err)
	_, err = ParseSchedule("@weekly")
	assert.NoError(t, err)
	_, err = ParseSchedule("61 * * * *")
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}
