package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumenfeed/lumenfeed/internal/api"
	"github.com/lumenfeed/lumenfeed/internal/domain"
	"github.com/lumenfeed/lumenfeed/internal/pagination"
)

const defaultFailedJobsPageSize = 20

// JobSubmitter accepts work for a named queue.
type JobSubmitter interface {
	Enqueue(ctx context.Context, queue string, payload any) (string, error)
}

// JobAdminStore exposes the failed-job operations of the job store.
type JobAdminStore interface {
	ListFailed(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*domain.Job, string, error)
	Requeue(ctx context.Context, id string) error
}

// JobsHandler serves the internal job submission and inspection endpoints.
type JobsHandler struct {
	submitter JobSubmitter
	store     JobAdminStore
}

func NewJobsHandler(submitter JobSubmitter, store JobAdminStore) *JobsHandler {
	return &JobsHandler{submitter: submitter, store: store}
}

type submitJobRequest struct {
	Queue   string          `json:"queue"`
	Payload json.RawMessage `json:"payload"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
}

// Submit enqueues a job. The API layer calls this when a new interaction or
// replay needs pipeline work.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Queue == "" {
		api.Error(w, http.StatusBadRequest, "queue is required")
		return
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage(`{}`)
	}

	jobID, err := h.submitter.Enqueue(r.Context(), req.Queue, req.Payload)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, submitJobResponse{JobID: jobID})
}

type jobView struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int32           `json:"attempts"`
	MaxAttempts int32           `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type failedJobsResponse struct {
	Jobs       []jobView `json:"jobs"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// ListFailed returns failed jobs for manual inspection, newest first.
func (h *JobsHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	limit := defaultFailedJobsPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			api.Error(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}

	var cursor *pagination.Cursor
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		decoded, err := pagination.DecodeCursor(raw)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		cursor = decoded
	}

	jobs, nextCursor, err := h.store.ListFailed(r.Context(), cursor, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView{
			ID:          job.ID,
			Queue:       job.Queue,
			Payload:     job.Payload,
			Status:      string(job.Status),
			Attempts:    job.Attempts,
			MaxAttempts: job.MaxAttempts,
			LastError:   job.LastError,
			ScheduledAt: job.ScheduledAt,
			UpdatedAt:   job.UpdatedAt,
		})
	}

	api.Success(w, http.StatusOK, failedJobsResponse{Jobs: views, NextCursor: nextCursor})
}

// Requeue resets a failed job to pending with its attempts cleared.
func (h *JobsHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		api.Error(w, http.StatusBadRequest, "job id is required")
		return
	}

	if err := h.store.Requeue(r.Context(), jobID); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(domain.JobStatusPending)})
}
