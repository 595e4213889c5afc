package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strings"

	"dotproj/api/internal/auth"
	"dotproj/api/internal/cache"
	"dotproj/api/internal/filestore"
	"dotproj/api/internal/store"
)

// touch bumps the validators of a path the current request does not
// resolve to itself.
func (s *Service) touch(ctx context.Context, path string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Touch(context.WithoutCancel(ctx), path); err != nil {
		s.log.WithError(err).WithField("path", path).Warn("touch cache path")
	}
}

// jsonDocument normalises a client document: empty or null becomes def,
// anything else must be valid JSON of one of the allowed kinds.
func jsonDocument(field string, raw json.RawMessage, def string, kinds ...byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(def), nil
	}
	if !json.Valid(trimmed) || bytes.IndexByte(kinds, trimmed[0]) < 0 {
		return nil, invalidInput(field+" must be a JSON "+kindNames(kinds), map[string]any{"field": field})
	}
	return json.RawMessage(trimmed), nil
}

func kindNames(kinds []byte) string {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		switch k {
		case '{':
			names = append(names, "object")
		case '[':
			names = append(names, "array")
		}
	}
	return strings.Join(names, " or ")
}

// Forms

type FormInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Fields      json.RawMessage `json:"fields"`
	CategoryKey string          `json:"categoryKey"`
}

func (s *Service) ListForms(ctx context.Context, workspaceID string) ([]store.Form, error) {
	return s.store.ListForms(ctx, workspaceID)
}

func (s *Service) GetForm(ctx context.Context, workspaceID, id string) (store.Form, error) {
	return s.store.GetForm(ctx, workspaceID, id)
}

func (s *Service) formFromInput(input FormInput) (store.Form, error) {
	if err := required("title", input.Title); err != nil {
		return store.Form{}, err
	}
	fields, err := jsonDocument("fields", input.Fields, "[]", '[', '{')
	if err != nil {
		return store.Form{}, err
	}
	return store.Form{
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Fields:      fields,
		CategoryKey: input.CategoryKey,
	}, nil
}

func (s *Service) CreateForm(ctx context.Context, workspaceID string, input FormInput) (store.Form, error) {
	item, err := s.formFromInput(input)
	if err != nil {
		return store.Form{}, err
	}
	item.WorkspaceID = workspaceID
	return s.store.CreateForm(ctx, item)
}

func (s *Service) UpdateForm(ctx context.Context, workspaceID, id string, input FormInput) (store.Form, error) {
	item, err := s.formFromInput(input)
	if err != nil {
		return store.Form{}, err
	}
	current, err := s.store.GetForm(ctx, workspaceID, id)
	if err != nil {
		return store.Form{}, err
	}
	item.ID = current.ID
	item.WorkspaceID = current.WorkspaceID
	item.CreatedAt = current.CreatedAt
	return s.store.UpdateForm(ctx, item)
}

func (s *Service) DeleteForm(ctx context.Context, workspaceID, id string) error {
	return s.store.DeleteForm(ctx, workspaceID, id)
}

type FormSubmissionInput struct {
	Data json.RawMessage `json:"data"`
}

func (s *Service) ListFormSubmissions(ctx context.Context, workspaceID, formID string) ([]store.FormSubmission, error) {
	if _, err := s.store.GetForm(ctx, workspaceID, formID); err != nil {
		return nil, err
	}
	return s.store.ListFormSubmissions(ctx, formID)
}

func (s *Service) GetFormSubmission(ctx context.Context, workspaceID, formID, id string) (store.FormSubmission, error) {
	item, err := s.store.GetFormSubmission(ctx, formID, id)
	if err != nil {
		return store.FormSubmission{}, err
	}
	if item.WorkspaceID != workspaceID {
		return store.FormSubmission{}, sql.ErrNoRows
	}
	return item, nil
}

func (s *Service) CreateFormSubmission(ctx context.Context, identity auth.Identity, workspaceID, formID string, input FormSubmissionInput) (store.FormSubmission, error) {
	data, err := jsonDocument("data", input.Data, "{}", '{')
	if err != nil {
		return store.FormSubmission{}, err
	}
	if _, err := s.store.GetForm(ctx, workspaceID, formID); err != nil {
		return store.FormSubmission{}, err
	}
	return s.store.CreateFormSubmission(ctx, store.FormSubmission{
		FormID:      formID,
		WorkspaceID: workspaceID,
		Data:        data,
		SubmitterID: identity.UserID,
	})
}

func (s *Service) UpdateFormSubmission(ctx context.Context, workspaceID, formID, id string, input FormSubmissionInput) (store.FormSubmission, error) {
	data, err := jsonDocument("data", input.Data, "{}", '{')
	if err != nil {
		return store.FormSubmission{}, err
	}
	current, err := s.GetFormSubmission(ctx, workspaceID, formID, id)
	if err != nil {
		return store.FormSubmission{}, err
	}
	current.Data = data
	return s.store.UpdateFormSubmission(ctx, current)
}

func (s *Service) DeleteFormSubmission(ctx context.Context, workspaceID, formID, id string) error {
	if _, err := s.GetFormSubmission(ctx, workspaceID, formID, id); err != nil {
		return err
	}
	return s.store.DeleteFormSubmission(ctx, formID, id)
}

// Processes

type ProcessInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Steps       json.RawMessage `json:"steps"`
	CategoryKey string          `json:"categoryKey"`
}

func (s *Service) ListProcesses(ctx context.Context, workspaceID string) ([]store.Process, error) {
	return s.store.ListProcesses(ctx, workspaceID)
}

func (s *Service) GetProcess(ctx context.Context, workspaceID, id string) (store.Process, error) {
	return s.store.GetProcess(ctx, workspaceID, id)
}

func (s *Service) processFromInput(input ProcessInput) (store.Process, error) {
	if err := required("title", input.Title); err != nil {
		return store.Process{}, err
	}
	steps, err := jsonDocument("steps", input.Steps, "{}", '{')
	if err != nil {
		return store.Process{}, err
	}
	return store.Process{
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Steps:       steps,
		CategoryKey: input.CategoryKey,
	}, nil
}

func (s *Service) CreateProcess(ctx context.Context, workspaceID string, input ProcessInput) (store.Process, error) {
	item, err := s.processFromInput(input)
	if err != nil {
		return store.Process{}, err
	}
	item.WorkspaceID = workspaceID
	return s.store.CreateProcess(ctx, item)
}

func (s *Service) UpdateProcess(ctx context.Context, workspaceID, id string, input ProcessInput) (store.Process, error) {
	item, err := s.processFromInput(input)
	if err != nil {
		return store.Process{}, err
	}
	current, err := s.store.GetProcess(ctx, workspaceID, id)
	if err != nil {
		return store.Process{}, err
	}
	item.ID = current.ID
	item.WorkspaceID = current.WorkspaceID
	item.CreatedAt = current.CreatedAt
	return s.store.UpdateProcess(ctx, item)
}

func (s *Service) DeleteProcess(ctx context.Context, workspaceID, id string) error {
	return s.store.DeleteProcess(ctx, workspaceID, id)
}

type ProcessInstanceInput struct {
	Data     json.RawMessage `json:"data"`
	StageKey string          `json:"stageKey"`
}

// checkStage requires a non-empty stage to name one of the process steps.
func checkStage(process store.Process, stage string) error {
	if stage == "" {
		return nil
	}
	var steps map[string]json.RawMessage
	if err := json.Unmarshal(process.Steps, &steps); err == nil {
		if _, ok := steps[stage]; ok {
			return nil
		}
	}
	return invalidInput("Unknown process stage", map[string]any{"stageKey": stage})
}

func (s *Service) ListProcessInstances(ctx context.Context, workspaceID, processID string) ([]store.ProcessInstance, error) {
	if _, err := s.store.GetProcess(ctx, workspaceID, processID); err != nil {
		return nil, err
	}
	return s.store.ListProcessInstances(ctx, processID)
}

func (s *Service) GetProcessInstance(ctx context.Context, workspaceID, processID, id string) (store.ProcessInstance, error) {
	item, err := s.store.GetProcessInstance(ctx, processID, id)
	if err != nil {
		return store.ProcessInstance{}, err
	}
	if item.WorkspaceID != workspaceID {
		return store.ProcessInstance{}, sql.ErrNoRows
	}
	return item, nil
}

func (s *Service) CreateProcessInstance(ctx context.Context, identity auth.Identity, workspaceID, processID string, input ProcessInstanceInput) (store.ProcessInstance, error) {
	data, err := jsonDocument("data", input.Data, "{}", '{')
	if err != nil {
		return store.ProcessInstance{}, err
	}
	process, err := s.store.GetProcess(ctx, workspaceID, processID)
	if err != nil {
		return store.ProcessInstance{}, err
	}
	stage := strings.TrimSpace(input.StageKey)
	if err := checkStage(process, stage); err != nil {
		return store.ProcessInstance{}, err
	}
	return s.store.CreateProcessInstance(ctx, store.ProcessInstance{
		ProcessID:   processID,
		WorkspaceID: workspaceID,
		Data:        data,
		StageKey:    stage,
		InitiatorID: identity.UserID,
	})
}

func (s *Service) UpdateProcessInstance(ctx context.Context, workspaceID, processID, id string, input ProcessInstanceInput) (store.ProcessInstance, error) {
	data, err := jsonDocument("data", input.Data, "{}", '{')
	if err != nil {
		return store.ProcessInstance{}, err
	}
	process, err := s.store.GetProcess(ctx, workspaceID, processID)
	if err != nil {
		return store.ProcessInstance{}, err
	}
	stage := strings.TrimSpace(input.StageKey)
	if err := checkStage(process, stage); err != nil {
		return store.ProcessInstance{}, err
	}
	current, err := s.GetProcessInstance(ctx, workspaceID, processID, id)
	if err != nil {
		return store.ProcessInstance{}, err
	}
	current.Data = data
	current.StageKey = stage
	return s.store.UpdateProcessInstance(ctx, current)
}

func (s *Service) DeleteProcessInstance(ctx context.Context, workspaceID, processID, id string) error {
	if _, err := s.GetProcessInstance(ctx, workspaceID, processID, id); err != nil {
		return err
	}
	return s.store.DeleteProcessInstance(ctx, processID, id)
}

// Task attachments

func (s *Service) ListTaskFiles(ctx context.Context, workspaceID, taskID string) ([]store.TaskFile, error) {
	if _, err := s.GetTask(ctx, workspaceID, taskID); err != nil {
		return nil, err
	}
	return s.store.ListTaskFiles(ctx, taskID)
}

type TaskFileUpload struct {
	CommentID   string
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AttachTaskFile stores the object, then the file row and its task link in
// one transaction. A rejected transaction removes the object again.
func (s *Service) AttachTaskFile(ctx context.Context, identity auth.Identity, workspaceID, taskID string, upload TaskFileUpload) (store.TaskFile, error) {
	if s.files == nil {
		return store.TaskFile{}, filestore.ErrNotConfigured
	}
	if err := required("name", upload.Name); err != nil {
		return store.TaskFile{}, err
	}
	if _, err := s.GetTask(ctx, workspaceID, taskID); err != nil {
		return store.TaskFile{}, err
	}
	if upload.CommentID != "" {
		if err := s.checkComment(ctx, taskID, upload.CommentID); err != nil {
			return store.TaskFile{}, err
		}
	}
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := filestore.ObjectKey(workspaceID, upload.Name)
	if err := s.files.Put(ctx, key, upload.Body, upload.Size, contentType); err != nil {
		return store.TaskFile{}, err
	}
	item, err := s.store.AttachTaskFile(ctx, store.WorkspaceFile{
		WorkspaceID: workspaceID,
		Name:        upload.Name,
		ObjectKey:   key,
		ContentType: contentType,
		Size:        upload.Size,
		CreatedBy:   identity.UserID,
	}, store.TaskFile{
		TaskID:    taskID,
		CommentID: upload.CommentID,
		OwnerID:   identity.UserID,
	})
	if err != nil {
		if delErr := s.files.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.log.WithError(delErr).WithField("object_key", key).Warn("remove orphaned object")
		}
		return store.TaskFile{}, err
	}
	s.touch(ctx, cache.FilesPath(workspaceID))
	return item, nil
}

func (s *Service) checkComment(ctx context.Context, taskID, commentID string) error {
	comments, err := s.store.ListComments(ctx, taskID)
	if err != nil {
		return err
	}
	for _, c := range comments {
		if c.ID == commentID {
			return nil
		}
	}
	return invalidInput("Comment does not belong to the task", map[string]any{"commentId": commentID})
}

func (s *Service) OpenTaskFile(ctx context.Context, workspaceID, taskID, id string) (store.TaskFile, io.ReadCloser, error) {
	if s.files == nil {
		return store.TaskFile{}, nil, filestore.ErrNotConfigured
	}
	if _, err := s.GetTask(ctx, workspaceID, taskID); err != nil {
		return store.TaskFile{}, nil, err
	}
	item, err := s.store.GetTaskFile(ctx, taskID, id)
	if err != nil {
		return store.TaskFile{}, nil, err
	}
	body, err := s.files.Get(ctx, item.ObjectKey)
	if err != nil {
		return store.TaskFile{}, nil, err
	}
	return item, body, nil
}

// DetachTaskFile removes the link only; the file stays listed under the
// workspace files.
func (s *Service) DetachTaskFile(ctx context.Context, workspaceID, taskID, id string) error {
	if _, err := s.GetTask(ctx, workspaceID, taskID); err != nil {
		return err
	}
	return s.store.DetachTaskFile(ctx, taskID, id)
}
