package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumenfeed/lumenfeed/internal/api"
	"github.com/lumenfeed/lumenfeed/internal/domain"
)

// ProjectReader verifies a project exists before work is queued for it.
type ProjectReader interface {
	GetSettings(ctx context.Context, projectID string) (*domain.ProjectSettings, error)
}

// RetentionHandler serves the on-demand retention trigger.
type RetentionHandler struct {
	submitter JobSubmitter
	projects  ProjectReader
}

func NewRetentionHandler(submitter JobSubmitter, projects ProjectReader) *RetentionHandler {
	return &RetentionHandler{submitter: submitter, projects: projects}
}

// Trigger enqueues a retention sweep for one project.
func (h *RetentionHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if projectID == "" {
		api.Error(w, http.StatusBadRequest, "project id is required")
		return
	}

	if _, err := h.projects.GetSettings(r.Context(), projectID); err != nil {
		api.HandleError(w, err)
		return
	}

	jobID, err := h.submitter.Enqueue(r.Context(), domain.QueueRetention, map[string]string{"project_id": projectID})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, map[string]string{"job_id": jobID, "project_id": projectID})
}
