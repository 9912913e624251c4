package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lumenfeed/lumenfeed/internal/domain"
	"github.com/lumenfeed/lumenfeed/internal/telemetry"
)

// ResultSanitized is reported when a replay reached ready.
const ResultSanitized = "sanitized"

// ReplayStore defines the persistence operations the sanitization pipeline
// needs.
type ReplayStore interface {
	GetByID(ctx context.Context, id string) (*domain.Replay, error)
	ClaimForProcessing(ctx context.Context, id string) (bool, error)
	MarkReady(ctx context.Context, replay *domain.Replay) error
	MarkFailed(ctx context.Context, id string) error
}

// ObjectStore is the blob storage contract for replay chunks.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	DeleteObjects(ctx context.Context, keys []string) error
}

// SanitizeResult reports what one sanitization run did.
type SanitizeResult struct {
	Status     string `json:"status"`
	EventCount int    `json:"event_count"`
	DurationMS int64  `json:"duration_ms"`
	Chunks     int    `json:"chunks"`
}

// SanitizationService redacts replay chunks and recomputes replay metadata.
type SanitizationService struct {
	replays ReplayStore
	objects ObjectStore
}

func NewSanitizationService(replays ReplayStore, objects ObjectStore) *SanitizationService {
	return &SanitizationService{replays: replays, objects: objects}
}

// Sanitize processes every chunk of a replay in order. A replay that already
// reached ready is a guarded no-op. If no chunk parses successfully the
// replay is marked failed and an error is returned so the job retries.
func (s *SanitizationService) Sanitize(ctx context.Context, replayID string) (*SanitizeResult, error) {
	replay, err := s.replays.GetByID(ctx, replayID)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "sanitization.sanitize", telemetry.SpanAttributes{
		ProjectID: replay.ProjectID,
		ReplayID:  replay.ID,
	})
	defer span.End()

	claimed, err := s.replays.ClaimForProcessing(ctx, replayID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &SanitizeResult{Status: ResultSkipped}, nil
	}

	var (
		totalEvents int
		minTS       int64
		maxTS       int64
		processed   int
	)

	for idx := range replay.Chunks {
		chunk := &replay.Chunks[idx]

		stats, err := s.sanitizeChunk(ctx, chunk)
		if err != nil {
			log.Printf("Skipping chunk %d of replay %s: %v", chunk.Index, replay.ID, err)
			continue
		}

		totalEvents += stats.eventCount
		if processed == 0 || stats.minTS < minTS {
			minTS = stats.minTS
		}
		if stats.maxTS > maxTS {
			maxTS = stats.maxTS
		}
		processed++
	}

	if processed == 0 {
		if err := s.replays.MarkFailed(ctx, replay.ID); err != nil {
			log.Printf("Error marking replay %s failed: %v", replay.ID, err)
		}
		return nil, fmt.Errorf("no chunks of replay %s could be sanitized", replay.ID)
	}

	replay.EventCount = totalEvents
	replay.DurationMS = maxTS - minTS
	if replay.DurationMS < 0 {
		replay.DurationMS = 0
	}
	endedAt := time.UnixMilli(maxTS).UTC()
	replay.EndedAt = &endedAt

	if err := s.replays.MarkReady(ctx, replay); err != nil {
		return nil, fmt.Errorf("mark replay ready: %w", err)
	}

	return &SanitizeResult{
		Status:     ResultSanitized,
		EventCount: totalEvents,
		DurationMS: replay.DurationMS,
		Chunks:     processed,
	}, nil
}

type chunkStats struct {
	eventCount int
	minTS      int64
	maxTS      int64
}

// sanitizeChunk fetches a chunk's raw events, redacts them and uploads the
// result under the sibling sanitized key. The raw object is left untouched.
func (s *SanitizationService) sanitizeChunk(ctx context.Context, chunk *domain.Chunk) (*chunkStats, error) {
	raw, err := s.objects.GetObject(ctx, chunk.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", chunk.StorageKey, err)
	}

	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("parse %s: %w", chunk.StorageKey, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("chunk %s holds no events", chunk.StorageKey)
	}

	sanitized := SanitizeEvents(events)

	out, err := json.Marshal(sanitized)
	if err != nil {
		return nil, fmt.Errorf("encode sanitized events: %w", err)
	}

	sanitizedKey := domain.SanitizedKey(chunk.StorageKey)
	if err := s.objects.PutObject(ctx, sanitizedKey, out, "application/json"); err != nil {
		return nil, fmt.Errorf("upload %s: %w", sanitizedKey, err)
	}

	stats := &chunkStats{
		eventCount: len(sanitized),
		minTS:      sanitized[0].Timestamp,
		maxTS:      sanitized[0].Timestamp,
	}
	for _, ev := range sanitized[1:] {
		if ev.Timestamp < stats.minTS {
			stats.minTS = ev.Timestamp
		}
		if ev.Timestamp > stats.maxTS {
			stats.maxTS = ev.Timestamp
		}
	}

	chunk.SanitizedKey = sanitizedKey
	chunk.EventCount = stats.eventCount
	chunk.StartTime = stats.minTS
	chunk.EndTime = stats.maxTS
	return stats, nil
}
