package app

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dotproj/api/internal/store"
)

const (
	maxUploadBytes  = 64 << 20
	maxUploadMemory = 8 << 20
)

func (s *HTTPServer) routes(r chi.Router) {
	r.Get("/api/me", s.handleMe)
	r.Get("/api/me/role", s.handleCurrentRole)
	r.Get("/api/search/tasks", s.handleSearchTasks)
	r.Post("/api/invites/{token}/accept", s.handleAcceptInvite)

	r.Route("/api/organizations", func(r chi.Router) {
		r.Get("/", s.handleListOrganizations)
		r.Post("/", s.handleCreateOrganization)
		r.Route("/{organizationID}", func(r chi.Router) {
			r.Get("/", s.handleGetOrganization)
			r.Put("/", s.handleUpdateOrganization)
			r.Delete("/", s.handleDeleteOrganization)
			s.memberRoutes(r, store.OrganizationMembers, "organizationID")
		})
	})

	r.Route("/api/workspaces", func(r chi.Router) {
		r.Get("/", s.handleListWorkspaces)
		r.Post("/", s.handleCreateWorkspace)
		r.Route("/{workspaceID}", func(r chi.Router) {
			r.Get("/", s.handleGetWorkspace)
			r.Put("/", s.handleUpdateWorkspace)
			r.Delete("/", s.handleDeleteWorkspace)
			s.memberRoutes(r, store.WorkspaceMembers, "workspaceID")

			r.Get("/invites", s.handleListInvites)
			r.Post("/invites", s.handleCreateInvite)
			r.Delete("/invites/{inviteID}", s.handleDeleteInvite)

			s.labelRoutes(r, store.Categories, "categoryID")
			s.labelRoutes(r, store.Stages, "stageID")

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.handleListTasks)
				r.Post("/", s.handleCreateTask)
				r.Route("/{taskID}", func(r chi.Router) {
					r.Get("/", s.handleGetTask)
					r.Put("/", s.handleUpdateTask)
					r.Delete("/", s.handleDeleteTask)
					r.Get("/summary", s.handleGetTaskSummary)
					r.Get("/comments", s.handleListComments)
					r.Post("/comments", s.handleCreateComment)
					r.Put("/comments/{commentID}", s.handleUpdateComment)
					r.Delete("/comments/{commentID}", s.handleDeleteComment)
					r.Get("/files", s.handleListTaskFiles)
					r.Post("/files", s.handleAttachTaskFile)
					r.Get("/files/{fileID}/content", s.handleDownloadTaskFile)
					r.Delete("/files/{fileID}", s.handleDetachTaskFile)
				})
			})

			r.Route("/chores", func(r chi.Router) {
				r.Get("/", s.handleListChores)
				r.Post("/", s.handleCreateChore)
				r.Route("/{choreID}", func(r chi.Router) {
					r.Get("/", s.handleGetChore)
					r.Put("/", s.handleUpdateChore)
					r.Delete("/", s.handleDeleteChore)
					r.Get("/responsibles", s.handleListResponsibles)
					r.Post("/responsibles", s.handleAddResponsible)
					r.Delete("/responsibles/{responsibleID}", s.handleRemoveResponsible)
				})
			})

			r.Route("/assignments", func(r chi.Router) {
				r.Get("/", s.handleListAssignments)
				r.Post("/", s.handleCreateAssignment)
				r.Route("/{assignmentID}", func(r chi.Router) {
					r.Get("/", s.handleGetAssignment)
					r.Put("/", s.handleUpdateAssignment)
					r.Delete("/", s.handleDeleteAssignment)
					r.Get("/submissions", s.handleListSubmissions)
					r.Post("/submissions", s.handleCreateSubmission)
				})
			})

			s.formRoutes(r)
			s.processRoutes(r)

			r.Route("/files", func(r chi.Router) {
				r.Get("/", s.handleListFiles)
				r.Post("/", s.handleUploadFile)
				r.Get("/{fileID}/content", s.handleDownloadFile)
				r.Delete("/{fileID}", s.handleDeleteFile)
			})
		})
	})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.Me(r.Context(), identityFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleCurrentRole(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.CurrentRole(r.Context(), identityFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleSearchTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	payload, err := s.service.SearchTasks(r.Context(), identityFrom(r), query.Get("workspaceId"), query.Get("q"), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// Organizations

func (s *HTTPServer) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListOrganizations(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type nameBody struct {
	Name string `json:"name"`
}

func (s *HTTPServer) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var body nameBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	org, err := s.service.CreateOrganization(r.Context(), identityFrom(r), body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (s *HTTPServer) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := s.service.GetOrganization(r.Context(), chi.URLParam(r, "organizationID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (s *HTTPServer) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	var body nameBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	org, err := s.service.UpdateOrganization(r.Context(), chi.URLParam(r, "organizationID"), body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (s *HTTPServer) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteOrganization(r.Context(), chi.URLParam(r, "organizationID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Members, shared by organizations and workspaces.

type memberBody struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (s *HTTPServer) memberRoutes(r chi.Router, scope store.MemberScope, param string) {
	r.Get("/members", func(w http.ResponseWriter, r *http.Request) {
		items, err := s.service.ListMembers(r.Context(), scope, chi.URLParam(r, param))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})
	r.Post("/members", func(w http.ResponseWriter, r *http.Request) {
		var body memberBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		member, err := s.service.AddMember(r.Context(), scope, chi.URLParam(r, param), body.UserID, body.Role)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, member)
	})
	r.Put("/members/{memberID}", func(w http.ResponseWriter, r *http.Request) {
		var body memberBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateMemberRole(r.Context(), scope, chi.URLParam(r, param), chi.URLParam(r, "memberID"), body.Role); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Delete("/members/{memberID}", func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.RemoveMember(r.Context(), scope, chi.URLParam(r, param), chi.URLParam(r, "memberID")); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
}

// Workspaces

type workspaceBody struct {
	OrganizationID string `json:"organizationId"`
	Label          string `json:"label"`
}

func (s *HTTPServer) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListWorkspaces(r.Context(), r.URL.Query().Get("organizationId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var body workspaceBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ws, err := s.service.CreateWorkspace(r.Context(), identityFrom(r), body.OrganizationID, body.Label)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (s *HTTPServer) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := s.service.GetWorkspace(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *HTTPServer) handleUpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	var body workspaceBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ws, err := s.service.UpdateWorkspace(r.Context(), chi.URLParam(r, "workspaceID"), body.Label)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *HTTPServer) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteWorkspace(r.Context(), chi.URLParam(r, "workspaceID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Invites

func (s *HTTPServer) handleListInvites(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListInvites(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var body CreateInviteInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	invite, err := s.service.CreateInvite(r.Context(), identityFrom(r), chi.URLParam(r, "workspaceID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

func (s *HTTPServer) handleDeleteInvite(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteInvite(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "inviteID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.AcceptInvite(r.Context(), identityFrom(r), chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// Categories and stages

func (s *HTTPServer) labelRoutes(r chi.Router, kind store.LabelKind, param string) {
	base := "/" + string(kind)
	item := base + "/{" + param + "}"
	r.Get(base, func(w http.ResponseWriter, r *http.Request) {
		items, err := s.service.ListLabels(r.Context(), kind, chi.URLParam(r, "workspaceID"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})
	r.Post(base, func(w http.ResponseWriter, r *http.Request) {
		var body LabelInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		label, err := s.service.CreateLabel(r.Context(), kind, chi.URLParam(r, "workspaceID"), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, label)
	})
	r.Put(item, func(w http.ResponseWriter, r *http.Request) {
		var body LabelInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		label, err := s.service.UpdateLabel(r.Context(), kind, chi.URLParam(r, "workspaceID"), chi.URLParam(r, param), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, label)
	})
	r.Delete(item, func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.DeleteLabel(r.Context(), kind, chi.URLParam(r, "workspaceID"), chi.URLParam(r, param)); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
}

// Tasks

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListTasks(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body TaskInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.CreateTask(r.Context(), identityFrom(r), chi.URLParam(r, "workspaceID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.GetTask(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var body TaskInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.UpdateTask(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTask(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleGetTaskSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.GetTaskSummary(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type commentBody struct {
	Content string `json:"content"`
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListComments(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var body commentBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	comment, err := s.service.CreateComment(r.Context(), identityFrom(r), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"), body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (s *HTTPServer) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	var body commentBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	err := s.service.UpdateComment(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"), chi.URLParam(r, "commentID"), body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteComment(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"), chi.URLParam(r, "commentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Chores

func (s *HTTPServer) handleListChores(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListChores(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateChore(w http.ResponseWriter, r *http.Request) {
	var body ChoreInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	chore, err := s.service.CreateChore(r.Context(), chi.URLParam(r, "workspaceID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chore)
}

func (s *HTTPServer) handleGetChore(w http.ResponseWriter, r *http.Request) {
	chore, err := s.service.GetChore(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "choreID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chore)
}

func (s *HTTPServer) handleUpdateChore(w http.ResponseWriter, r *http.Request) {
	var body ChoreInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	chore, err := s.service.UpdateChore(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "choreID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chore)
}

func (s *HTTPServer) handleDeleteChore(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteChore(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "choreID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListResponsibles(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListResponsibles(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "choreID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleAddResponsible(w http.ResponseWriter, r *http.Request) {
	var body memberBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.AddResponsible(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "choreID"), body.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleRemoveResponsible(w http.ResponseWriter, r *http.Request) {
	err := s.service.RemoveResponsible(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "choreID"), chi.URLParam(r, "responsibleID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Assignments

func (s *HTTPServer) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	openOnly, _ := strconv.ParseBool(query.Get("open"))
	items, err := s.service.ListAssignments(r.Context(), store.AssignmentFilter{
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		ChoreID:     query.Get("choreId"),
		UserID:      query.Get("userId"),
		OpenOnly:    openOnly,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	var body AssignmentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.CreateAssignment(r.Context(), identityFrom(r), chi.URLParam(r, "workspaceID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.GetAssignment(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "assignmentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateAssignment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.UpdateAssignmentStatus(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "assignmentID"), body.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteAssignment(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteAssignment(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "assignmentID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListSubmissions(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "assignmentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var body SubmissionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.CreateSubmission(r.Context(), identityFrom(r), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "assignmentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// Files

func (s *HTTPServer) handleListFiles(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListFiles(r.Context(), chi.URLParam(r, "workspaceID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	file, header, ok := readUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

	item, err := s.service.UploadFile(r.Context(), identityFrom(r), chi.URLParam(r, "workspaceID"),
		header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	item, body, err := s.service.OpenFile(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "fileID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()
	s.streamObject(w, item.ID, item.Name, item.ContentType, item.Size, body)
}

func (s *HTTPServer) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteFile(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "fileID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
