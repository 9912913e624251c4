package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lumenfeed/lumenfeed/internal/domain"
)

type mockReplayStore struct {
	mock.Mock
}

func (m *mockReplayStore) GetByID(ctx context.Context, id string) (*domain.Replay, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Replay), args.Error(1)
}

func (m *mockReplayStore) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockReplayStore) MarkReady(ctx context.Context, replay *domain.Replay) error {
	args := m.Called(ctx, replay)
	return args.Error(0)
}

func (m *mockReplayStore) MarkFailed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// memObjectStore is an in-memory ObjectStore for pipeline tests.
type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (s *memObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: not found", key)
	}
	return data, nil
}

func (s *memObjectStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memObjectStore) DeleteObjects(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.objects, key)
	}
	return nil
}

func putEvents(t *testing.T, store *memObjectStore, key string, events []Event) {
	t.Helper()
	data, err := json.Marshal(events)
	require.NoError(t, err)
	require.NoError(t, store.PutObject(context.Background(), key, data, "application/json"))
}

func evenlySpacedEvents(n int, from, to int64) []Event {
	events := make([]Event, n)
	step := (to - from) / int64(n-1)
	for i := range events {
		events[i] = Event{Type: eventIncremental, Data: json.RawMessage(`{"source":5,"id":1,"text":"ok"}`), Timestamp: from + int64(i)*step}
	}
	events[n-1].Timestamp = to
	return events
}

func TestSanitize_TwoChunksOneMissing(t *testing.T) {
	objects := newMemObjectStore()
	putEvents(t, objects, "replays/r1/0.json", evenlySpacedEvents(10, 1000, 5000))

	replay := &domain.Replay{
		ID:        "r1",
		ProjectID: "proj-1",
		SessionID: "sess-1",
		Status:    domain.ReplayStatusPending,
		Chunks: []domain.Chunk{
			{Index: 0, StorageKey: "replays/r1/0.json"},
			{Index: 1, StorageKey: "replays/r1/1.json"}, // never uploaded
		},
	}

	replays := new(mockReplayStore)
	replays.On("GetByID", mock.Anything, "r1").Return(replay, nil)
	replays.On("ClaimForProcessing", mock.Anything, "r1").Return(true, nil)
	replays.On("MarkReady", mock.Anything, mock.MatchedBy(func(r *domain.Replay) bool {
		return r.EventCount == 10 &&
			r.DurationMS == 4000 &&
			r.EndedAt != nil && r.EndedAt.UnixMilli() == 5000 &&
			r.Chunks[0].SanitizedKey == "replays/r1/0.sanitized.json" &&
			r.Chunks[1].SanitizedKey == ""
	})).Return(nil)

	svc := NewSanitizationService(replays, objects)
	result, err := svc.Sanitize(context.Background(), "r1")
	require.NoError(t, err)

	assert.Equal(t, ResultSanitized, result.Status)
	assert.Equal(t, 10, result.EventCount)
	assert.Equal(t, int64(4000), result.DurationMS)
	assert.Equal(t, 1, result.Chunks)
	replays.AssertExpectations(t)

	// The raw object is left in place and the sanitized sibling exists.
	_, err = objects.GetObject(context.Background(), "replays/r1/0.json")
	assert.NoError(t, err)
	_, err = objects.GetObject(context.Background(), "replays/r1/0.sanitized.json")
	assert.NoError(t, err)
}

func TestSanitize_RedactsChunkContents(t *testing.T) {
	objects := newMemObjectStore()
	putEvents(t, objects, "replays/r2/0.json", []Event{
		{Type: eventIncremental, Data: json.RawMessage(`{"source":5,"id":1,"text":"jane@example.com"}`), Timestamp: 100},
	})

	replay := &domain.Replay{
		ID: "r2", ProjectID: "proj-1", Status: domain.ReplayStatusPending,
		Chunks: []domain.Chunk{{Index: 0, StorageKey: "replays/r2/0.json"}},
	}

	replays := new(mockReplayStore)
	replays.On("GetByID", mock.Anything, "r2").Return(replay, nil)
	replays.On("ClaimForProcessing", mock.Anything, "r2").Return(true, nil)
	replays.On("MarkReady", mock.Anything, mock.Anything).Return(nil)

	svc := NewSanitizationService(replays, objects)
	_, err := svc.Sanitize(context.Background(), "r2")
	require.NoError(t, err)

	sanitized, err := objects.GetObject(context.Background(), "replays/r2/0.sanitized.json")
	require.NoError(t, err)
	assert.NotContains(t, string(sanitized), "jane@example.com")
	assert.Contains(t, string(sanitized), InputValueMask)
}

func TestSanitize_AlreadyReadyIsSkipped(t *testing.T) {
	replay := &domain.Replay{ID: "r3", ProjectID: "proj-1", Status: domain.ReplayStatusReady}

	replays := new(mockReplayStore)
	replays.On("GetByID", mock.Anything, "r3").Return(replay, nil)
	replays.On("ClaimForProcessing", mock.Anything, "r3").Return(false, nil)

	svc := NewSanitizationService(replays, newMemObjectStore())
	result, err := svc.Sanitize(context.Background(), "r3")
	require.NoError(t, err)

	assert.Equal(t, ResultSkipped, result.Status)
	replays.AssertNotCalled(t, "MarkReady")
	replays.AssertNotCalled(t, "MarkFailed")
}

func TestSanitize_AllChunksBadIsHardFailure(t *testing.T) {
	objects := newMemObjectStore()
	require.NoError(t, objects.PutObject(context.Background(), "replays/r4/0.json", []byte("{not an array"), ""))

	replay := &domain.Replay{
		ID: "r4", ProjectID: "proj-1", Status: domain.ReplayStatusPending,
		Chunks: []domain.Chunk{
			{Index: 0, StorageKey: "replays/r4/0.json"},
			{Index: 1, StorageKey: "replays/r4/1.json"},
		},
	}

	replays := new(mockReplayStore)
	replays.On("GetByID", mock.Anything, "r4").Return(replay, nil)
	replays.On("ClaimForProcessing", mock.Anything, "r4").Return(true, nil)
	replays.On("MarkFailed", mock.Anything, "r4").Return(nil)

	svc := NewSanitizationService(replays, objects)
	_, err := svc.Sanitize(context.Background(), "r4")
	require.Error(t, err)
	replays.AssertCalled(t, "MarkFailed", mock.Anything, "r4")
	replays.AssertNotCalled(t, "MarkReady")
}

func TestSanitize_ReplayNotFound(t *testing.T) {
	replays := new(mockReplayStore)
	replays.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrReplayNotFound)

	svc := NewSanitizationService(replays, newMemObjectStore())
	_, err := svc.Sanitize(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrReplayNotFound)
}
