package app

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) formRoutes(r chi.Router) {
	r.Route("/forms", func(r chi.Router) {
		r.Get("/", s.handleListForms)
		r.Post("/", s.handleCreateForm)
		r.Route("/{formID}", func(r chi.Router) {
			r.Get("/", s.handleGetForm)
			r.Put("/", s.handleUpdateForm)
			r.Delete("/", s.handleDeleteForm)
			r.Get("/submissions", s.handleListFormSubmissions)
			r.Post("/submissions", s.handleCreateFormSubmission)
			r.Get("/submissions/{submissionID}", s.handleGetFormSubmission)
			r.Put("/submissions/{submissionID}", s.handleUpdateFormSubmission)
			r.Delete("/submissions/{submissionID}", s.handleDeleteFormSubmission)
		})
	})
}

func (s *HTTPServer) processRoutes(r chi.Router) {
	r.Route("/processes", func(r chi.Router) {
		r.Get("/", s.handleListProcesses)
		r.Post("/", s.handleCreateProcess)
		r.Route("/{processID}", func(r chi.Router) {
			r.Get("/", s.handleGetProcess)
			r.Put("/", s.handleUpdateProcess)
			r.Delete("/", s.handleDeleteProcess)
			r.Get("/instances", s.handleListProcessInstances)
			r.Post("/instances", s.handleCreateProcessInstance)
			r.Get("/instances/{instanceID}", s.handleGetProcessInstance)
			r.Put("/instances/{instanceID}", s.handleUpdateProcessInstance)
			r.Delete("/instances/{instanceID}", s.handleDeleteProcessInstance)
		})
	})
}

// readUpload parses a multipart body under the upload limit and returns its
// "file" part. It writes the error response itself.
func readUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds upload limit", map[string]any{"limitBytes": maxUploadBytes})
			return nil, nil, false
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected multipart form with a file field", nil)
		return nil, nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "missing file field", nil)
		return nil, nil, false
	}
	return file, header, true
}

func (s *HTTPServer) streamObject(w http.ResponseWriter, id, name, contentType string, size int64, body io.Reader) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprint(size))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.log.WithError(err).WithField("file_id", id).Warn("stream file")
	}
}

// Forms

func (s *HTTPServer) handleListForms(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListForms(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	var body FormInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.CreateForm(r.Context(), chi.URLParam(r, "workspaceID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleGetForm(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.GetForm(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "formID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	var body FormInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.UpdateForm(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "formID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteForm(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "formID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListFormSubmissions(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListFormSubmissions(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "formID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateFormSubmission(w http.ResponseWriter, r *http.Request) {
	var body FormSubmissionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.CreateFormSubmission(r.Context(), identityFrom(r), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "formID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleGetFormSubmission(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.GetFormSubmission(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "formID"), chi.URLParam(r, "submissionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateFormSubmission(w http.ResponseWriter, r *http.Request) {
	var body FormSubmissionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.UpdateFormSubmission(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "formID"), chi.URLParam(r, "submissionID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteFormSubmission(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteFormSubmission(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "formID"), chi.URLParam(r, "submissionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Processes

func (s *HTTPServer) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListProcesses(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateProcess(w http.ResponseWriter, r *http.Request) {
	var body ProcessInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.CreateProcess(r.Context(), chi.URLParam(r, "workspaceID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.GetProcess(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "processID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateProcess(w http.ResponseWriter, r *http.Request) {
	var body ProcessInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.UpdateProcess(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "processID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteProcess(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteProcess(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "processID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListProcessInstances(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListProcessInstances(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "processID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateProcessInstance(w http.ResponseWriter, r *http.Request) {
	var body ProcessInstanceInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.CreateProcessInstance(r.Context(), identityFrom(r), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "processID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleGetProcessInstance(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.GetProcessInstance(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "processID"), chi.URLParam(r, "instanceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateProcessInstance(w http.ResponseWriter, r *http.Request) {
	var body ProcessInstanceInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.UpdateProcessInstance(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "processID"), chi.URLParam(r, "instanceID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteProcessInstance(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteProcessInstance(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "processID"), chi.URLParam(r, "instanceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Task attachments

func (s *HTTPServer) handleListTaskFiles(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListTaskFiles(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleAttachTaskFile(w http.ResponseWriter, r *http.Request) {
	file, header, ok := readUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

	item, err := s.service.AttachTaskFile(r.Context(), identityFrom(r), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"), TaskFileUpload{
		CommentID:   r.FormValue("commentId"),
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleDownloadTaskFile(w http.ResponseWriter, r *http.Request) {
	item, body, err := s.service.OpenTaskFile(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"), chi.URLParam(r, "fileID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()
	s.streamObject(w, item.FileID, item.Name, item.ContentType, item.Size, body)
}

func (s *HTTPServer) handleDetachTaskFile(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DetachTaskFile(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"), chi.URLParam(r, "fileID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
