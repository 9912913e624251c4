//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenfeed/lumenfeed/internal/api/handlers"
	"github.com/lumenfeed/lumenfeed/internal/domain"
	"github.com/lumenfeed/lumenfeed/internal/queue"
	"github.com/lumenfeed/lumenfeed/internal/repository"
	"github.com/lumenfeed/lumenfeed/internal/server"
	"github.com/lumenfeed/lumenfeed/internal/service"
	"github.com/lumenfeed/lumenfeed/internal/storage"
	"github.com/lumenfeed/lumenfeed/internal/testutil"
)

const internalToken = "e2e-secret"

// E2ETestEnv holds all resources needed for pipeline E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	Objects      *memObjectStore
	Manager      *queue.Manager
	Interactions *repository.InteractionRepository
	Replays      *repository.ReplayRepository
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full pipeline environment: database, queues and API server
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	objects := newMemObjectStore()

	jobRepo := repository.NewJobRepository(pool)
	interactionRepo := repository.NewInteractionRepository(pool)
	projectRepo := repository.NewProjectRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	replayRepo := repository.NewReplayRepository(pool)
	auditLogRepo := repository.NewAuditLogRepository(pool)

	classificationSvc := service.NewClassificationService(interactionRepo, projectRepo, nil, nil)
	sanitizationSvc := service.NewSanitizationService(replayRepo, objects)
	retentionSvc := service.NewRetentionService(
		projectRepo,
		repository.NewInteractionCleanup(pool),
		sessionRepo,
		replayRepo,
		auditLogRepo,
		objects,
	)

	manager := queue.NewManager(jobRepo)
	manager.SetPollInterval(100 * time.Millisecond)

	manager.Register(domain.QueueClassification, 3, func(ctx context.Context, payload json.RawMessage) error {
		var p struct {
			InteractionID string `json:"interaction_id"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		_, err := classificationSvc.Classify(ctx, p.InteractionID)
		return err
	})

	manager.Register(domain.QueueSanitization, 2, func(ctx context.Context, payload json.RawMessage) error {
		var p struct {
			ReplayID string `json:"replay_id"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		_, err := sanitizationSvc.Sanitize(ctx, p.ReplayID)
		return err
	})

	manager.Register(domain.QueueRetention, 1, func(ctx context.Context, payload json.RawMessage) error {
		var p struct {
			ProjectID string `json:"project_id"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		_, err := retentionSvc.CleanupProject(ctx, p.ProjectID)
		return err
	})

	manager.Start(ctx)

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	router := server.NewRouter(server.RouterConfig{
		InternalToken:    internalToken,
		HealthHandler:    handlers.NewHealthHandler(pool),
		JobsHandler:      handlers.NewJobsHandler(manager, jobRepo),
		RetentionHandler: handlers.NewRetentionHandler(manager, projectRepo),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		Objects:      objects,
		Manager:      manager,
		Interactions: interactionRepo,
		Replays:      replayRepo,
		ServerURL:    serverURL,
		ServerCloser: func() {
			manager.Stop()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		},
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// SeedProject inserts a project and returns its id
func (e *E2ETestEnv) SeedProject() string {
	id := uuid.NewString()
	_, err := e.Pool.Exec(e.Ctx, `INSERT INTO projects (id, name) VALUES ($1, $2)`, id, "E2E Project")
	if err != nil {
		e.T.Fatalf("failed to seed project: %v", err)
	}
	return id
}

// Post performs an authenticated POST against the internal API
func (e *E2ETestEnv) Post(path string, body interface{}) (*http.Response, []byte) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.T.Fatalf("failed to marshal body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPost, e.ServerURL+path, reqBody)
	if err != nil {
		e.T.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+internalToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		e.T.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		e.T.Fatalf("failed to read response: %v", err)
	}
	return resp, respBody
}

// WaitFor polls until the condition holds or the deadline passes
func (e *E2ETestEnv) WaitFor(timeout time.Duration, condition func() bool, msg string) {
	e.T.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	e.T.Fatalf("timed out waiting for %s", msg)
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// memObjectStore is an in-memory stand-in for the blob backend
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
		return nil, storage.ErrObjectNotFound
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

func (s *memObjectStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}
