// Package queue runs the durable background job queues. Jobs live in
// Postgres, are claimed with SKIP LOCKED, and survive process restarts.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/lumenfeed/lumenfeed/internal/domain"
	"github.com/lumenfeed/lumenfeed/internal/telemetry"
)

const (
	// DefaultMaxAttempts is the attempt ceiling before a job is parked as failed.
	DefaultMaxAttempts = 3

	// DefaultPollInterval is how often each queue checks for due jobs.
	DefaultPollInterval = 5 * time.Second

	// StaleThreshold is how long a job may sit in processing before a
	// startup reset returns it to pending.
	StaleThreshold = 10 * time.Minute

	baseBackoff = 30 * time.Second
	maxBackoff  = time.Hour
)

// JobStore defines the persistence operations the manager needs.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	ClaimDue(ctx context.Context, queue string, limit int) ([]*domain.Job, error)
	Complete(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, errMsg string, at time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	ResetStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Handler processes one job payload. A nil return deletes the job; an error
// triggers a delayed retry until the attempt ceiling is hit.
type Handler func(ctx context.Context, payload json.RawMessage) error

type queueConfig struct {
	handler     Handler
	concurrency int
}

// Manager owns the polling loops for every registered queue plus the cron
// schedules that feed them.
type Manager struct {
	store        JobStore
	queues       map[string]queueConfig
	pollInterval time.Duration
	cron         *cron.Cron

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a Manager. Register queues before calling Start.
func NewManager(store JobStore) *Manager {
	return &Manager{
		store:        store,
		queues:       make(map[string]queueConfig),
		pollInterval: DefaultPollInterval,
		cron:         cron.New(),
		stopChan:     make(chan struct{}),
	}
}

// SetPollInterval overrides the polling cadence. Call before Start.
func (m *Manager) SetPollInterval(d time.Duration) {
	if d > 0 {
		m.pollInterval = d
	}
}

// Register binds a handler to a queue name with a worker concurrency limit.
func (m *Manager) Register(queue string, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	m.queues[queue] = queueConfig{handler: handler, concurrency: concurrency}
}

// Enqueue persists a new job on the given queue, due immediately.
func (m *Manager) Enqueue(ctx context.Context, queue string, payload any) (string, error) {
	return m.EnqueueAt(ctx, queue, payload, time.Now().UTC())
}

// EnqueueAt persists a new job due at the given time.
func (m *Manager) EnqueueAt(ctx context.Context, queue string, payload any, at time.Time) (string, error) {
	if _, ok := m.queues[queue]; !ok {
		return "", domain.ErrUnknownQueue
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Payload:     raw,
		Status:      domain.JobStatusPending,
		Attempts:    0,
		MaxAttempts: DefaultMaxAttempts,
		ScheduledAt: at,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	return job.ID, nil
}

// Schedule registers a cron entry. Schedules start ticking on Start.
func (m *Manager) Schedule(spec string, fn func()) error {
	_, err := m.cron.AddFunc(spec, fn)
	return err
}

// Start resets stale claims and launches one polling loop per queue.
func (m *Manager) Start(ctx context.Context) {
	if reset, err := m.store.ResetStale(ctx, StaleThreshold); err != nil {
		log.Printf("Error resetting stale jobs: %v", err)
	} else if reset > 0 {
		log.Printf("Reset %d stale jobs to pending", reset)
	}

	m.cron.Start()

	for name, cfg := range m.queues {
		m.wg.Add(1)
		go m.runQueue(ctx, name, cfg)
	}
	log.Printf("Queue manager started with %d queues, poll interval %v", len(m.queues), m.pollInterval)
}

// Stop halts the cron schedules and waits for in-flight jobs to finish.
func (m *Manager) Stop() {
	close(m.stopChan)
	cronCtx := m.cron.Stop()
	<-cronCtx.Done()
	m.wg.Wait()
	log.Println("Queue manager shutdown complete")
}

func (m *Manager) runQueue(ctx context.Context, name string, cfg queueConfig) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			if err := m.processBatch(ctx, name, cfg); err != nil {
				log.Printf("Error processing queue %s: %v", name, err)
			}
		}
	}
}

func (m *Manager) processBatch(ctx context.Context, name string, cfg queueConfig) error {
	jobs, err := m.store.ClaimDue(ctx, name, cfg.concurrency)
	if err != nil {
		return fmt.Errorf("claim jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			m.runJob(gctx, name, cfg.handler, job)
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) runJob(ctx context.Context, queue string, handler Handler, job *domain.Job) {
	ctx, span := telemetry.StartSpan(ctx, "queue.job", telemetry.SpanAttributes{
		Queue:     queue,
		Operation: "process",
	})
	defer span.End()

	err := handler(ctx, job.Payload)
	if err == nil {
		if err := m.store.Complete(ctx, job.ID); err != nil {
			log.Printf("Error completing job %s: %v", job.ID, err)
		}
		return
	}

	log.Printf("Job %s on queue %s failed: %v", job.ID, queue, err)
	telemetry.CaptureError(ctx, err)

	// Attempts counts completed tries; this one is about to be recorded.
	if job.Attempts+1 >= job.MaxAttempts {
		log.Printf("Job %s exceeded max attempts (%d), marking as failed", job.ID, job.MaxAttempts)
		if err := m.store.MarkFailed(ctx, job.ID, err.Error()); err != nil {
			log.Printf("Error marking job %s failed: %v", job.ID, err)
		}
		return
	}

	delay := retryBackoff(job.Attempts + 1)
	log.Printf("Job %s will be retried in %v (attempt %d/%d)", job.ID, delay, job.Attempts+1, job.MaxAttempts)
	if err := m.store.Reschedule(ctx, job.ID, err.Error(), time.Now().UTC().Add(delay)); err != nil {
		log.Printf("Error rescheduling job %s: %v", job.ID, err)
	}
}

// retryBackoff returns the delay before attempt n runs again, doubling from
// the base and capped at an hour.
func retryBackoff(attempt int32) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseBackoff
	for i := int32(1); i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
