package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lumenfeed/lumenfeed/internal/domain"
	"github.com/lumenfeed/lumenfeed/internal/telemetry"
)

// Batch sizes for the retention sweep. Replays move blobs as well as rows, so
// their batch is smaller.
const (
	InteractionBatchSize = 1000
	SessionBatchSize     = 1000
	ReplayBatchSize      = 500
)

// InteractionCleanupStore lists expired interactions and cascades their
// deletion.
type InteractionCleanupStore interface {
	ListExpiredUnlinked(ctx context.Context, projectID string, cutoff time.Time, limit int) ([]string, error)
	DeleteCascade(ctx context.Context, ids []string) error
}

// SessionStore lists and deletes expired sessions.
type SessionStore interface {
	ListExpired(ctx context.Context, projectID string, cutoff time.Time, limit int) ([]string, error)
	Delete(ctx context.Context, ids []string) error
}

// ReplayCleanupStore lists and deletes expired replays.
type ReplayCleanupStore interface {
	ListExpired(ctx context.Context, projectID string, cutoff time.Time, limit int) ([]*domain.Replay, error)
	ListBySessionIDs(ctx context.Context, sessionIDs []string) ([]*domain.Replay, error)
	Delete(ctx context.Context, ids []string) error
}

// AuditLogStore bulk-deletes audit entries.
type AuditLogStore interface {
	DeleteOlderThan(ctx context.Context, projectID string, cutoff time.Time) (int64, error)
}

// CleanupReport counts what one project sweep removed.
type CleanupReport struct {
	ProjectID    string `json:"project_id"`
	Interactions int    `json:"interactions"`
	Sessions     int    `json:"sessions"`
	Replays      int    `json:"replays"`
	AuditLogs    int64  `json:"audit_logs"`
}

// RetentionService enforces per-project retention policies across relational
// rows and object-storage keys.
type RetentionService struct {
	settings     SettingsStore
	interactions InteractionCleanupStore
	sessions     SessionStore
	replays      ReplayCleanupStore
	audits       AuditLogStore
	objects      ObjectStore
}

func NewRetentionService(settings SettingsStore, interactions InteractionCleanupStore, sessions SessionStore, replays ReplayCleanupStore, audits AuditLogStore, objects ObjectStore) *RetentionService {
	return &RetentionService{
		settings:     settings,
		interactions: interactions,
		sessions:     sessions,
		replays:      replays,
		audits:       audits,
		objects:      objects,
	}
}

// SweepAll cleans up every project in sequence. Per-project errors are logged
// and do not stop the sweep. Safe to run twice in the same window.
func (s *RetentionService) SweepAll(ctx context.Context) error {
	projectIDs, err := s.settings.ListProjectIDs(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	for _, projectID := range projectIDs {
		if _, err := s.CleanupProject(ctx, projectID); err != nil {
			log.Printf("Retention sweep: error cleaning up project %s: %v", projectID, err)
		}
	}
	return nil
}

// CleanupProject runs all four entity cleanups for one project. Each cleanup
// is independent: a failure in one is logged and the others still run, and a
// crash mid-batch is safe to resume on the next scheduled run.
func (s *RetentionService) CleanupProject(ctx context.Context, projectID string) (*CleanupReport, error) {
	settings, err := s.settings.GetSettings(ctx, projectID)
	if err != nil {
		return nil, err
	}
	policy := settings.Retention.WithDefaults()
	now := time.Now().UTC()

	ctx, span := telemetry.StartSpan(ctx, "retention.cleanup_project", telemetry.SpanAttributes{
		ProjectID: projectID,
		Operation: "cleanup",
	})
	defer span.End()

	report := &CleanupReport{ProjectID: projectID}

	if n, err := s.cleanupInteractions(ctx, projectID, domain.Cutoff(now, policy.InteractionDays)); err != nil {
		log.Printf("Retention: interaction cleanup for project %s: %v", projectID, err)
		telemetry.CaptureError(ctx, err)
	} else {
		report.Interactions = n
	}

	if n, err := s.cleanupSessions(ctx, projectID, domain.Cutoff(now, policy.SessionDays)); err != nil {
		log.Printf("Retention: session cleanup for project %s: %v", projectID, err)
		telemetry.CaptureError(ctx, err)
	} else {
		report.Sessions = n
	}

	if n, err := s.cleanupReplays(ctx, projectID, domain.Cutoff(now, policy.ReplayDays)); err != nil {
		log.Printf("Retention: replay cleanup for project %s: %v", projectID, err)
		telemetry.CaptureError(ctx, err)
	} else {
		report.Replays = n
	}

	if n, err := s.audits.DeleteOlderThan(ctx, projectID, domain.Cutoff(now, policy.AuditLogDays)); err != nil {
		log.Printf("Retention: audit log cleanup for project %s: %v", projectID, err)
		telemetry.CaptureError(ctx, err)
	} else {
		report.AuditLogs = n
	}

	log.Printf("Retention: project %s cleaned up: %d interactions, %d sessions, %d replays, %d audit logs",
		projectID, report.Interactions, report.Sessions, report.Replays, report.AuditLogs)
	return report, nil
}

// cleanupInteractions deletes expired interactions not linked to an external
// issue, child rows first.
func (s *RetentionService) cleanupInteractions(ctx context.Context, projectID string, cutoff time.Time) (int, error) {
	total := 0
	for {
		ids, err := s.interactions.ListExpiredUnlinked(ctx, projectID, cutoff, InteractionBatchSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		if err := s.interactions.DeleteCascade(ctx, ids); err != nil {
			return total, err
		}
		total += len(ids)

		if len(ids) < InteractionBatchSize {
			return total, nil
		}
	}
}

// cleanupSessions deletes expired sessions, preserving any session that still
// has an interaction newer than the cutoff. Dependent replays and their blobs
// go first.
func (s *RetentionService) cleanupSessions(ctx context.Context, projectID string, cutoff time.Time) (int, error) {
	total := 0
	for {
		ids, err := s.sessions.ListExpired(ctx, projectID, cutoff, SessionBatchSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		replays, err := s.replays.ListBySessionIDs(ctx, ids)
		if err != nil {
			return total, err
		}
		if err := s.deleteReplays(ctx, replays); err != nil {
			return total, err
		}

		if err := s.sessions.Delete(ctx, ids); err != nil {
			return total, err
		}
		total += len(ids)

		if len(ids) < SessionBatchSize {
			return total, nil
		}
	}
}

// cleanupReplays deletes expired replays and every raw and sanitized chunk
// key they own.
func (s *RetentionService) cleanupReplays(ctx context.Context, projectID string, cutoff time.Time) (int, error) {
	total := 0
	for {
		replays, err := s.replays.ListExpired(ctx, projectID, cutoff, ReplayBatchSize)
		if err != nil {
			return total, err
		}
		if len(replays) == 0 {
			return total, nil
		}

		if err := s.deleteReplays(ctx, replays); err != nil {
			return total, err
		}
		total += len(replays)

		if len(replays) < ReplayBatchSize {
			return total, nil
		}
	}
}

// deleteReplays removes blob keys first, then the replay rows. Blob delete
// failures are logged by the storage layer and remaining batches are still
// attempted; the rows are deleted regardless so the sweep stays resumable.
func (s *RetentionService) deleteReplays(ctx context.Context, replays []*domain.Replay) error {
	if len(replays) == 0 {
		return nil
	}

	var keys []string
	ids := make([]string, 0, len(replays))
	for _, r := range replays {
		keys = append(keys, r.StorageKeys()...)
		ids = append(ids, r.ID)
	}

	if len(keys) > 0 {
		if err := s.objects.DeleteObjects(ctx, keys); err != nil {
			log.Printf("Retention: error deleting %d storage keys: %v", len(keys), err)
		}
	}
	return s.replays.Delete(ctx, ids)
}
