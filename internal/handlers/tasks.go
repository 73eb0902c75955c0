package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tego/internal/common"
	"github.com/ternarybob/tego/internal/interfaces"
)

// TasksPathPrefix is where the task lifecycle endpoints are mounted.
const TasksPathPrefix = "/api/tasks/"

// TasksHandler drives the background task lifecycle. PUT starts a task,
// PATCH restarts it and DELETE cancels it.
type TasksHandler struct {
	app    Application
	logger arbor.ILogger
}

func NewTasksHandler(app Application) *TasksHandler {
	return &TasksHandler{
		app:    app,
		logger: common.GetLogger(),
	}
}

// Handle dispatches /api/tasks/{name} by method.
func (h *TasksHandler) Handle(w http.ResponseWriter, r *http.Request) {
	name := taskNameFromPath(r.URL.Path, TasksPathPrefix)
	if name == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.logger.Info().Str("task", name).Msg("Adding task")
		h.writeOutcome(w, name, h.app.TaskService().Add(r.Context(), name))
	case http.MethodPatch:
		h.logger.Info().Str("task", name).Msg("Resetting task")
		h.writeOutcome(w, name, h.app.TaskService().Reset(r.Context(), name))
	case http.MethodDelete:
		h.logger.Info().Str("task", name).Msg("Deleting task")
		h.writeOutcome(w, name, h.app.TaskService().Remove(r.Context(), name))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// writeOutcome maps task service errors onto the endpoint contract: an
// unknown name is a client error, a duplicate periodic task is not.
func (h *TasksHandler) writeOutcome(w http.ResponseWriter, name string, err error) {
	switch {
	case err == nil:
		WriteEmpty(w, http.StatusOK)
	case errors.Is(err, interfaces.ErrUnknownTask):
		h.logger.Error().Str("task", name).Msg("Unable to locate task")
		WriteEmpty(w, http.StatusBadRequest)
	case errors.Is(err, interfaces.ErrDuplicateTask):
		h.logger.Error().Str("task", name).Msg("Unable to create task")
		WriteEmpty(w, http.StatusInternalServerError)
	default:
		h.logger.Error().Err(err).Str("task", name).Msg("Task operation failed")
		WriteError(w, http.StatusInternalServerError, "task operation failed")
	}
}

// taskNameFromPath extracts the task name from a URL path.
// Example: "/api/tasks/audits.PublishAudits" with prefix "/api/tasks/"
// returns "audits.PublishAudits".
func taskNameFromPath(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	name := strings.TrimPrefix(path, prefix)
	return strings.TrimSuffix(name, "/")
}
