package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lumenfeed/lumenfeed/internal/domain"
)

type mockInteractionCleanup struct {
	mock.Mock
}

func (m *mockInteractionCleanup) ListExpiredUnlinked(ctx context.Context, projectID string, cutoff time.Time, limit int) ([]string, error) {
	args := m.Called(ctx, projectID, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockInteractionCleanup) DeleteCascade(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

type mockSessionStore struct {
	mock.Mock
}

func (m *mockSessionStore) ListExpired(ctx context.Context, projectID string, cutoff time.Time, limit int) ([]string, error) {
	args := m.Called(ctx, projectID, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockSessionStore) Delete(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

type mockReplayCleanup struct {
	mock.Mock
}

func (m *mockReplayCleanup) ListExpired(ctx context.Context, projectID string, cutoff time.Time, limit int) ([]*domain.Replay, error) {
	args := m.Called(ctx, projectID, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Replay), args.Error(1)
}

func (m *mockReplayCleanup) ListBySessionIDs(ctx context.Context, sessionIDs []string) ([]*domain.Replay, error) {
	args := m.Called(ctx, sessionIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Replay), args.Error(1)
}

func (m *mockReplayCleanup) Delete(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

type mockAuditLogStore struct {
	mock.Mock
}

func (m *mockAuditLogStore) DeleteOlderThan(ctx context.Context, projectID string, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, projectID, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type retentionFixture struct {
	settings     *mockSettingsStore
	interactions *mockInteractionCleanup
	sessions     *mockSessionStore
	replays      *mockReplayCleanup
	audits       *mockAuditLogStore
	objects      *memObjectStore
	svc          *RetentionService
}

func newRetentionFixture() *retentionFixture {
	f := &retentionFixture{
		settings:     new(mockSettingsStore),
		interactions: new(mockInteractionCleanup),
		sessions:     new(mockSessionStore),
		replays:      new(mockReplayCleanup),
		audits:       new(mockAuditLogStore),
		objects:      newMemObjectStore(),
	}
	f.svc = NewRetentionService(f.settings, f.interactions, f.sessions, f.replays, f.audits, f.objects)
	return f
}

func (f *retentionFixture) expectNoSessions() {
	f.sessions.On("ListExpired", mock.Anything, mock.Anything, mock.Anything, SessionBatchSize).Return([]string{}, nil)
}

func (f *retentionFixture) expectNoInteractions() {
	f.interactions.On("ListExpiredUnlinked", mock.Anything, mock.Anything, mock.Anything, InteractionBatchSize).Return([]string{}, nil)
}

func (f *retentionFixture) expectNoReplays() {
	f.replays.On("ListExpired", mock.Anything, mock.Anything, mock.Anything, ReplayBatchSize).Return([]*domain.Replay{}, nil)
}

func (f *retentionFixture) expectNoAuditLogs() {
	f.audits.On("DeleteOlderThan", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), nil)
}

func TestCleanupProject_Interactions(t *testing.T) {
	f := newRetentionFixture()
	f.settings.On("GetSettings", mock.Anything, "proj-1").Return(enabledSettings("proj-1"), nil)

	f.interactions.On("ListExpiredUnlinked", mock.Anything, "proj-1", mock.MatchedBy(func(cutoff time.Time) bool {
		// Default interaction retention is 365 days.
		expected := time.Now().UTC().AddDate(0, 0, -domain.DefaultInteractionRetentionDays)
		return cutoff.Sub(expected).Abs() < time.Minute
	}), InteractionBatchSize).Return([]string{"int-1", "int-2"}, nil)
	f.interactions.On("DeleteCascade", mock.Anything, []string{"int-1", "int-2"}).Return(nil)

	f.expectNoSessions()
	f.expectNoReplays()
	f.expectNoAuditLogs()

	report, err := f.svc.CleanupProject(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Interactions)
	f.interactions.AssertExpectations(t)
}

func TestCleanupProject_FullBatchLoopsUntilDrained(t *testing.T) {
	f := newRetentionFixture()
	f.settings.On("GetSettings", mock.Anything, "proj-1").Return(enabledSettings("proj-1"), nil)

	fullBatch := make([]string, InteractionBatchSize)
	for i := range fullBatch {
		fullBatch[i] = "int"
	}
	f.interactions.On("ListExpiredUnlinked", mock.Anything, "proj-1", mock.Anything, InteractionBatchSize).
		Return(fullBatch, nil).Once()
	f.interactions.On("ListExpiredUnlinked", mock.Anything, "proj-1", mock.Anything, InteractionBatchSize).
		Return([]string{"int-last"}, nil).Once()
	f.interactions.On("DeleteCascade", mock.Anything, mock.Anything).Return(nil)

	f.expectNoSessions()
	f.expectNoReplays()
	f.expectNoAuditLogs()

	report, err := f.svc.CleanupProject(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, InteractionBatchSize+1, report.Interactions)
}

func TestCleanupProject_ReplaysDeleteBlobsAndRows(t *testing.T) {
	f := newRetentionFixture()
	f.settings.On("GetSettings", mock.Anything, "proj-1").Return(enabledSettings("proj-1"), nil)

	ctx := context.Background()
	require.NoError(t, f.objects.PutObject(ctx, "replays/r1/0.json", []byte("[]"), ""))
	require.NoError(t, f.objects.PutObject(ctx, "replays/r1/0.sanitized.json", []byte("[]"), ""))

	expired := []*domain.Replay{{
		ID:        "r1",
		ProjectID: "proj-1",
		Chunks: []domain.Chunk{{
			Index:        0,
			StorageKey:   "replays/r1/0.json",
			SanitizedKey: "replays/r1/0.sanitized.json",
		}},
	}}
	f.replays.On("ListExpired", mock.Anything, "proj-1", mock.Anything, ReplayBatchSize).Return(expired, nil).Once()
	f.replays.On("Delete", mock.Anything, []string{"r1"}).Return(nil)

	f.expectNoInteractions()
	f.expectNoSessions()
	f.expectNoAuditLogs()

	report, err := f.svc.CleanupProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replays)

	// Raw and sanitized keys are always deleted together.
	_, err = f.objects.GetObject(ctx, "replays/r1/0.json")
	assert.Error(t, err)
	_, err = f.objects.GetObject(ctx, "replays/r1/0.sanitized.json")
	assert.Error(t, err)
}

func TestCleanupProject_SessionsCascadeThroughReplays(t *testing.T) {
	f := newRetentionFixture()
	f.settings.On("GetSettings", mock.Anything, "proj-1").Return(enabledSettings("proj-1"), nil)

	ctx := context.Background()
	require.NoError(t, f.objects.PutObject(ctx, "replays/r9/0.json", []byte("[]"), ""))

	f.sessions.On("ListExpired", mock.Anything, "proj-1", mock.Anything, SessionBatchSize).
		Return([]string{"sess-1"}, nil).Once()
	f.replays.On("ListBySessionIDs", mock.Anything, []string{"sess-1"}).Return([]*domain.Replay{{
		ID:     "r9",
		Chunks: []domain.Chunk{{Index: 0, StorageKey: "replays/r9/0.json"}},
	}}, nil)
	f.replays.On("Delete", mock.Anything, []string{"r9"}).Return(nil)
	f.sessions.On("Delete", mock.Anything, []string{"sess-1"}).Return(nil)

	f.expectNoInteractions()
	f.expectNoReplays()
	f.expectNoAuditLogs()

	report, err := f.svc.CleanupProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sessions)

	_, err = f.objects.GetObject(ctx, "replays/r9/0.json")
	assert.Error(t, err, "session cleanup removes dependent replay blobs")
}

func TestCleanupProject_FailuresAreIndependent(t *testing.T) {
	f := newRetentionFixture()
	f.settings.On("GetSettings", mock.Anything, "proj-1").Return(enabledSettings("proj-1"), nil)

	f.interactions.On("ListExpiredUnlinked", mock.Anything, "proj-1", mock.Anything, InteractionBatchSize).
		Return(nil, errors.New("db down"))
	f.expectNoSessions()
	f.expectNoReplays()
	f.audits.On("DeleteOlderThan", mock.Anything, "proj-1", mock.Anything).Return(int64(7), nil)

	report, err := f.svc.CleanupProject(context.Background(), "proj-1")
	require.NoError(t, err, "one failed cleanup must not abort the others")
	assert.Equal(t, 0, report.Interactions)
	assert.Equal(t, int64(7), report.AuditLogs)
}

func TestSweepAll_ContinuesPastProjectErrors(t *testing.T) {
	f := newRetentionFixture()

	f.settings.On("ListProjectIDs", mock.Anything).Return([]string{"proj-bad", "proj-good"}, nil)
	f.settings.On("GetSettings", mock.Anything, "proj-bad").Return(nil, domain.ErrProjectNotFound)
	f.settings.On("GetSettings", mock.Anything, "proj-good").Return(enabledSettings("proj-good"), nil)

	f.expectNoInteractions()
	f.expectNoSessions()
	f.expectNoReplays()
	f.expectNoAuditLogs()

	require.NoError(t, f.svc.SweepAll(context.Background()))
	f.settings.AssertCalled(t, "GetSettings", mock.Anything, "proj-good")
}
