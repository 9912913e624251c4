package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lumenfeed/lumenfeed/internal/domain"
	"github.com/lumenfeed/lumenfeed/internal/pagination"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Enqueue(ctx context.Context, queue string, payload any) (string, error) {
	args := m.Called(ctx, queue, payload)
	return args.String(0), args.Error(1)
}

type mockJobAdminStore struct {
	mock.Mock
}

func (m *mockJobAdminStore) ListFailed(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*domain.Job, string, error) {
	args := m.Called(ctx, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]*domain.Job), args.String(1), args.Error(2)
}

func (m *mockJobAdminStore) Requeue(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func TestSubmit(t *testing.T) {
	submitter := new(mockSubmitter)
	submitter.On("Enqueue", mock.Anything, "classification", mock.Anything).Return("job-1", nil)

	h := NewJobsHandler(submitter, new(mockJobAdminStore))

	body := `{"queue":"classification","payload":{"interaction_id":"int-1"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Submit(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "job-1")
	submitter.AssertExpectations(t)
}

func TestSubmit_Validation(t *testing.T) {
	h := NewJobsHandler(new(mockSubmitter), new(mockJobAdminStore))

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing queue", `{"payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Submit(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSubmit_UnknownQueue(t *testing.T) {
	submitter := new(mockSubmitter)
	submitter.On("Enqueue", mock.Anything, "bogus", mock.Anything).Return("", domain.ErrUnknownQueue)

	h := NewJobsHandler(submitter, new(mockJobAdminStore))

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"queue":"bogus"}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListFailed(t *testing.T) {
	store := new(mockJobAdminStore)
	jobs := []*domain.Job{{
		ID:          "job-1",
		Queue:       domain.QueueSanitization,
		Payload:     json.RawMessage(`{"replay_id":"r1"}`),
		Status:      domain.JobStatusFailed,
		Attempts:    3,
		MaxAttempts: 3,
		LastError:   "no chunks could be sanitized",
		UpdatedAt:   time.Now().UTC(),
	}}
	store.On("ListFailed", mock.Anything, (*pagination.Cursor)(nil), 20).Return(jobs, "next-token", nil)

	h := NewJobsHandler(new(mockSubmitter), store)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/failed", nil)
	rec := httptest.NewRecorder()
	h.ListFailed(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "job-1")
	assert.Contains(t, rec.Body.String(), "next-token")
	assert.Contains(t, rec.Body.String(), "no chunks could be sanitized")
}

func TestListFailed_BadParams(t *testing.T) {
	h := NewJobsHandler(new(mockSubmitter), new(mockJobAdminStore))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/failed?limit=0", nil)
	rec := httptest.NewRecorder()
	h.ListFailed(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/failed?cursor=!not-base64!", nil)
	rec = httptest.NewRecorder()
	h.ListFailed(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func requeueRequest(t *testing.T, h *JobsHandler, jobID string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/v1/jobs/{jobID}/requeue", h.Requeue)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+jobID+"/requeue", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequeue(t *testing.T) {
	store := new(mockJobAdminStore)
	store.On("Requeue", mock.Anything, "job-1").Return(nil)

	h := NewJobsHandler(new(mockSubmitter), store)
	rec := requeueRequest(t, h, "job-1")

	assert.Equal(t, http.StatusOK, rec.Code)
	store.AssertExpectations(t)
}

func TestRequeue_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", domain.ErrJobNotFound, http.StatusNotFound},
		{"not requeueable", domain.ErrJobNotRequeueable, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockJobAdminStore)
			store.On("Requeue", mock.Anything, "job-x").Return(tt.err)

			h := NewJobsHandler(new(mockSubmitter), store)
			rec := requeueRequest(t, h, "job-x")
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
