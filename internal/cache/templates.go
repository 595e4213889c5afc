package cache

// DefaultTemplates covers the API's cacheable resources. Nested templates
// come before their parents because the first match wins.
var DefaultTemplates = []string{
	"/api/organizations/{organization}/members/{member?}/*",
	"/api/organizations/{organization?}/*",
	"/api/workspaces/{workspace}/tasks/{task}/comments/{comment?}/*",
	"/api/workspaces/{workspace}/tasks/{task}/summary/*",
	"/api/workspaces/{workspace}/tasks/{task}/files/{file?}/*",
	"/api/workspaces/{workspace}/tasks/{task?}/*",
	"/api/workspaces/{workspace}/chores/{chore}/responsibles/{responsible?}/*",
	"/api/workspaces/{workspace}/chores/{chore?}/*",
	"/api/workspaces/{workspace}/assignments/{assignment^}/submissions/{submission?}/*",
	"/api/workspaces/{workspace}/assignments/{assignment?}/*",
	"/api/workspaces/{workspace}/forms/{form}/submissions/{submission?}/*",
	"/api/workspaces/{workspace}/forms/{form?}/*",
	"/api/workspaces/{workspace}/processes/{process}/instances/{instance?}/*",
	"/api/workspaces/{workspace}/processes/{process?}/*",
	"/api/workspaces/{workspace}/categories/{category?}/*",
	"/api/workspaces/{workspace}/stages/{stage?}/*",
	"/api/workspaces/{workspace}/members/{member?}/*",
	"/api/workspaces/{workspace}/invites/{invite?}/*",
	"/api/workspaces/{workspace}/files/{file?}/*",
	"/api/workspaces/{workspace?}/",
}

// Resource paths touched out of band by background jobs and by writes that
// change a resource outside the request path.
func AssignmentsPath(workspaceID string) string {
	return "/api/workspaces/" + workspaceID + "/assignments/"
}

func ChorePath(workspaceID, choreID string) string {
	return "/api/workspaces/" + workspaceID + "/chores/" + choreID + "/"
}

func FilesPath(workspaceID string) string {
	return "/api/workspaces/" + workspaceID + "/files/"
}

func TaskFilesPath(workspaceID, taskID string) string {
	return "/api/workspaces/" + workspaceID + "/tasks/" + taskID + "/files/"
}

func SummaryPath(workspaceID, taskID string) string {
	return "/api/workspaces/" + workspaceID + "/tasks/" + taskID + "/summary/"
}
