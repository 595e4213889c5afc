package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotproj/api/internal/auth"
	"dotproj/api/internal/cache"
	"dotproj/api/internal/store"
)

var testSecret = []byte("test-secret")

type testServer struct {
	handler http.Handler
	fs      *fakeStore
}

func newTestServer(t *testing.T, fs *fakeStore, opts Options, httpOpts HTTPOptions) *testServer {
	t.Helper()
	svc := newTestService(fs, opts)
	httpOpts.Verifier = auth.NewVerifier(testSecret, "")
	httpOpts.Logger = quietLog()
	return &testServer{handler: NewHTTPServer(svc, httpOpts).Handler(), fs: fs}
}

func tokenFor(t *testing.T, identity auth.Identity, ttl time.Duration) string {
	t.Helper()
	token, err := auth.IssueToken(testSecret, "", identity, ttl)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, values := range header {
		req.Header[key] = values
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodePayload(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), rr.Body.String())
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, &fakeStore{}, Options{}, HTTPOptions{})

	rr := ts.do(t, http.MethodGet, "/api/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodePayload(t, rr)["ok"])
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		ts := newTestServer(t, &fakeStore{}, Options{}, HTTPOptions{
			Checks: map[string]Check{"redis": func(context.Context) error { return nil }},
		})
		rr := ts.do(t, http.MethodGet, "/api/ready", "", nil, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		payload := decodePayload(t, rr)
		assert.Equal(t, "ready", payload["status"])
		assert.Contains(t, payload["checks"], "redis")
	})

	t.Run("database down", func(t *testing.T) {
		fs := &fakeStore{pingFn: func(context.Context) error { return errors.New("connection refused") }}
		ts := newTestServer(t, fs, Options{}, HTTPOptions{})
		rr := ts.do(t, http.MethodGet, "/api/ready", "", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		payload := decodePayload(t, rr)
		assert.Equal(t, "not_ready", payload["status"])
		assert.Equal(t, false, payload["ok"])
	})

	t.Run("dependency down", func(t *testing.T) {
		ts := newTestServer(t, &fakeStore{}, Options{}, HTTPOptions{
			Checks: map[string]Check{"storage": func(context.Context) error { return errors.New("bucket missing") }},
		})
		rr := ts.do(t, http.MethodGet, "/api/ready", "", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, &fakeStore{}, Options{}, HTTPOptions{})
	expired := tokenFor(t, alice, -time.Minute)
	forged, err := auth.IssueToken([]byte("other-secret"), "", alice, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "expired", token: expired},
		{name: "wrong key", token: forged},
		{name: "garbage", token: "not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodGet, "/api/workspaces/"+workspaceID+"/tasks", tc.token, nil, nil)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "UNAUTHORIZED", decodePayload(t, rr)["code"])
		})
	}
}

func TestAuthenticatedRequestRegistersUser(t *testing.T) {
	var upserted store.User
	fs := &fakeStore{upsertUserFn: func(_ context.Context, user store.User) (store.User, error) {
		upserted = user
		return user, nil
	}}
	ts := newTestServer(t, fs, Options{}, HTTPOptions{})

	rr := ts.do(t, http.MethodGet, "/api/workspaces/"+workspaceID+"/tasks", tokenFor(t, alice, time.Hour), nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, store.User{ID: aliceID, Email: "alice@example.com", Name: "Alice"}, upserted)
}

func TestAcceptInviteEndpoint(t *testing.T) {
	fs := &fakeStore{invites: map[string]store.Invite{
		"fresh": {ID: "i1", Token: "fresh", WorkspaceID: workspaceID, Role: "manager", ExpiresAt: now.Add(time.Hour)},
		"stale": {ID: "i2", Token: "stale", WorkspaceID: workspaceID, Role: "manager", ExpiresAt: now.Add(-time.Hour)},
	}}
	ts := newTestServer(t, fs, Options{}, HTTPOptions{})
	token := tokenFor(t, bob, time.Hour)

	rr := ts.do(t, http.MethodPost, "/api/invites/stale/accept", token, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVITE_EXPIRED", decodePayload(t, rr)["code"])
	assert.Zero(t, fs.memberCount())

	rr = ts.do(t, http.MethodPost, "/api/invites/fresh/accept", token, nil, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, true, decodePayload(t, rr)["created"])

	rr = ts.do(t, http.MethodPost, "/api/invites/fresh/accept", token, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decodePayload(t, rr)["created"])
	assert.Equal(t, 1, fs.memberCount())
}

func TestRowSecurityRejectionReadsAsNotFound(t *testing.T) {
	fs := &fakeStore{createTaskFn: func(context.Context, store.Task) (store.Task, error) {
		return store.Task{}, &pgconn.PgError{Code: "42501", Message: `new row violates row-level security policy for table "tasks"`}
	}}
	ts := newTestServer(t, fs, Options{}, HTTPOptions{})

	rr := ts.do(t, http.MethodPost, "/api/workspaces/"+workspaceID+"/tasks", tokenFor(t, alice, time.Hour), map[string]any{"title": "x"}, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decodePayload(t, rr)["code"])
}

func TestInvalidBodyAndSchedule(t *testing.T) {
	ts := newTestServer(t, &fakeStore{}, Options{}, HTTPOptions{})
	token := tokenFor(t, alice, time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/workspaces/"+workspaceID+"/chores", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_BODY", decodePayload(t, rr)["code"])

	rr = ts.do(t, http.MethodPost, "/api/workspaces/"+workspaceID+"/chores", token, map[string]any{"title": "Trash", "schedule": "61 * * * *"}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_INPUT", decodePayload(t, rr)["code"])
}

func TestUnknownRouteAndMethod(t *testing.T) {
	ts := newTestServer(t, &fakeStore{}, Options{}, HTTPOptions{})
	token := tokenFor(t, alice, time.Hour)

	rr := ts.do(t, http.MethodGet, "/api/nothing-here", token, nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, http.MethodPatch, "/api/workspaces/"+workspaceID+"/tasks", token, nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

// Task list validators must change after a task is created, through the
// whole middleware chain.
func TestTaskListValidatorChangesAfterCreate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	timestamps := cache.NewRedisStore(client, cache.StoreOptions{})
	validators := cache.NewMiddleware(cache.MustResolver(cache.DefaultTemplates), timestamps, cache.DefaultHeader, quietLog())

	var listed atomic.Int32
	fs := &fakeStore{listTasksFn: func(context.Context, string) ([]store.Task, error) {
		listed.Add(1)
		return []store.Task{}, nil
	}}
	ts := newTestServer(t, fs, Options{}, HTTPOptions{Cache: validators.Handler})
	token := tokenFor(t, alice, time.Hour)
	path := "/api/workspaces/" + workspaceID + "/tasks"

	rr := ts.do(t, http.MethodGet, path, token, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	v1 := rr.Header().Get("ETag")
	require.NotEmpty(t, v1)

	rr = ts.do(t, http.MethodGet, path, token, nil, http.Header{"If-None-Match": {v1}})
	assert.Equal(t, http.StatusNotModified, rr.Code)
	assert.Equal(t, int32(1), listed.Load(), "304 must not reach the handler")

	rr = ts.do(t, http.MethodPost, path, token, map[string]any{"title": "Buy soap"}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = ts.do(t, http.MethodGet, path, token, nil, http.Header{"If-None-Match": {v1}})
	assert.Equal(t, http.StatusOK, rr.Code)
	v2 := rr.Header().Get("ETag")
	assert.NotEmpty(t, v2)
	assert.NotEqual(t, v1, v2)
	assert.Equal(t, int32(2), listed.Load())
}

func newCachedTestServer(t *testing.T, fs *fakeStore) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	timestamps := cache.NewRedisStore(client, cache.StoreOptions{})
	validators := cache.NewMiddleware(cache.MustResolver(cache.DefaultTemplates), timestamps, cache.DefaultHeader, quietLog())
	return newTestServer(t, fs, Options{}, HTTPOptions{Cache: validators.Handler})
}

// A submission changes its assignment's status, so validators held for the
// assignment and the assignment list must stop matching.
func TestSubmissionInvalidatesAssignmentValidators(t *testing.T) {
	fs := &fakeStore{getAssignmentFn: func(_ context.Context, id string) (store.Assignment, error) {
		return store.Assignment{ID: id, WorkspaceID: workspaceID, ChoreID: "c1", Status: store.StatusPending}, nil
	}}
	ts := newCachedTestServer(t, fs)
	token := tokenFor(t, alice, time.Hour)
	base := "/api/workspaces/" + workspaceID + "/assignments"

	rr := ts.do(t, http.MethodGet, base+"/a1", token, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	itemValidator := rr.Header().Get("ETag")
	rr = ts.do(t, http.MethodGet, base, token, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	listValidator := rr.Header().Get("ETag")
	require.NotEmpty(t, itemValidator)
	require.NotEmpty(t, listValidator)

	rr = ts.do(t, http.MethodPost, base+"/a1/submissions", token, map[string]any{"status": "done"}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = ts.do(t, http.MethodGet, base+"/a1", token, nil, http.Header{"If-None-Match": {itemValidator}})
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = ts.do(t, http.MethodGet, base, token, nil, http.Header{"If-None-Match": {listValidator}})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHeadUsesValidators(t *testing.T) {
	var listed atomic.Int32
	fs := &fakeStore{listTasksFn: func(context.Context, string) ([]store.Task, error) {
		listed.Add(1)
		return []store.Task{}, nil
	}}
	ts := newCachedTestServer(t, fs)
	token := tokenFor(t, alice, time.Hour)
	path := "/api/workspaces/" + workspaceID + "/tasks"

	rr := ts.do(t, http.MethodHead, path, token, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	validator := rr.Header().Get("ETag")
	require.NotEmpty(t, validator)

	rr = ts.do(t, http.MethodHead, path, token, nil, http.Header{"If-None-Match": {validator}})
	assert.Equal(t, http.StatusNotModified, rr.Code)
	assert.Equal(t, int32(1), listed.Load())
}

func TestFileUploadAndDownload(t *testing.T) {
	objects := &fakeObjects{}
	var stored store.WorkspaceFile
	fs := &fakeStore{}
	fs.createFileFn = func(_ context.Context, item store.WorkspaceFile) (store.WorkspaceFile, error) {
		item.ID = "f1"
		stored = item
		return item, nil
	}
	fs.getFileFn = func(_ context.Context, ws, id string) (store.WorkspaceFile, error) {
		if ws != workspaceID || id != stored.ID {
			return store.WorkspaceFile{}, errors.New("unexpected lookup")
		}
		return stored, nil
	}
	ts := newTestServer(t, fs, Options{Files: objects}, HTTPOptions{})
	token := tokenFor(t, bob, time.Hour)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/workspaces/"+workspaceID+"/files", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, bobID, stored.CreatedBy)
	assert.Equal(t, int64(5), stored.Size)
	assert.Equal(t, "hello", objects.objects[stored.ObjectKey])

	rr = ts.do(t, http.MethodGet, "/api/workspaces/"+workspaceID+"/files/f1/content", token, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hello", rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "notes.txt")
}
