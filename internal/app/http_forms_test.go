package app

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dotproj/api/internal/auth"
	"dotproj/api/internal/store"
)

func newFormsTestServer(fs *formsStore, opts Options) *testServer {
	svc := newFormsService(fs, opts)
	handler := NewHTTPServer(svc, HTTPOptions{Verifier: auth.NewVerifier(testSecret, ""), Logger: quietLog()}).Handler()
	return &testServer{handler: handler}
}

func TestFormRoutes(t *testing.T) {
	fs := &formsStore{}
	ts := newFormsTestServer(fs, Options{})
	token := tokenFor(t, alice, time.Hour)
	base := "/api/workspaces/" + workspaceID + "/forms"

	rr := ts.do(t, http.MethodPost, base, token, map[string]any{"title": "Intake", "fields": []any{map[string]any{"key": "name"}}}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodePayload(t, rr)
	assert.Equal(t, "form-new", created["id"])
	assert.Len(t, created["fields"], 1)

	rr = ts.do(t, http.MethodGet, base+"/form-new", token, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Intake", decodePayload(t, rr)["title"])

	rr = ts.do(t, http.MethodGet, "/api/workspaces/"+otherWSID+"/forms/form-new", token, nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, http.MethodPost, base+"/form-new/submissions", token, map[string]any{"data": "plain"}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_INPUT", decodePayload(t, rr)["code"])

	rr = ts.do(t, http.MethodPost, base+"/form-new/submissions", token, map[string]any{"data": map[string]any{"name": "Alice"}}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	submission := decodePayload(t, rr)
	assert.Equal(t, aliceID, submission["submitterId"])
	assert.Equal(t, map[string]any{"name": "Alice"}, submission["data"])
}

func TestProcessInstanceRejectsUnknownStage(t *testing.T) {
	fs := &formsStore{processes: map[string]store.Process{
		"p1": {ID: "p1", WorkspaceID: workspaceID, Steps: []byte(`{"draft":{}}`)},
	}}
	ts := newFormsTestServer(fs, Options{})
	token := tokenFor(t, alice, time.Hour)
	path := "/api/workspaces/" + workspaceID + "/processes/p1/instances"

	rr := ts.do(t, http.MethodPost, path, token, map[string]any{"stageKey": "review"}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(t, http.MethodPost, path, token, map[string]any{"stageKey": "draft"}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "draft", decodePayload(t, rr)["stageKey"])
}

func TestTaskFileUpload(t *testing.T) {
	fs := attachStore()
	objects := &fakeObjects{}
	ts := newFormsTestServer(fs, Options{Files: objects})
	token := tokenFor(t, bob, time.Hour)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("commentId", "c1"))
	part, err := form.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/workspaces/"+workspaceID+"/tasks/t1/files", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	payload := decodePayload(t, rr)
	assert.Equal(t, "t1", payload["taskId"])
	assert.Equal(t, "c1", payload["commentId"])
	assert.Equal(t, "photo.png", payload["name"])
	assert.NotContains(t, payload, "objectKey")
	require.Len(t, fs.attached, 1)
	assert.Equal(t, "png", objects.objects[fs.attached[0].ObjectKey])
}
