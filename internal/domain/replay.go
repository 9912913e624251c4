package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReplayStatus represents the processing status of a session replay
type ReplayStatus string

const (
	ReplayStatusPending    ReplayStatus = "pending"
	ReplayStatusProcessing ReplayStatus = "processing"
	ReplayStatusReady      ReplayStatus = "ready"
	ReplayStatusFailed     ReplayStatus = "failed"
)

// Chunk is a contiguous, independently stored slice of a replay's event stream.
// StorageKey points at the raw capture; SanitizedKey is set once the
// sanitization pipeline has written the redacted sibling object.
type Chunk struct {
	Index        int    `json:"index"`
	StorageKey   string `json:"storage_key"`
	SanitizedKey string `json:"sanitized_key,omitempty"`
	EventCount   int    `json:"event_count"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
}

// Replay represents a recorded user session as an ordered list of chunks.
type Replay struct {
	ID         string
	ProjectID  string
	SessionID  string
	Status     ReplayStatus
	Chunks     []Chunk
	EventCount int
	DurationMS int64
	EndedAt    *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StorageKeys returns every object key owned by the replay, raw and sanitized.
// Both must always be deleted together so no blob outlives its row.
func (r *Replay) StorageKeys() []string {
	keys := make([]string, 0, len(r.Chunks)*2)
	for _, c := range r.Chunks {
		if c.StorageKey != "" {
			keys = append(keys, c.StorageKey)
		}
		if c.SanitizedKey != "" {
			keys = append(keys, c.SanitizedKey)
		}
	}
	return keys
}

// SanitizedKey derives the sibling object key for a chunk's redacted events.
// The transform is deterministic so retention can reconstruct the key even if
// the chunk record predates sanitization.
func SanitizedKey(rawKey string) string {
	if strings.HasSuffix(rawKey, ".json") {
		return strings.TrimSuffix(rawKey, ".json") + ".sanitized.json"
	}
	return rawKey + ".sanitized"
}

// ValidateReplay validates a Replay instance
func ValidateReplay(r *Replay) error {
	if r == nil {
		return fmt.Errorf("replay cannot be nil")
	}

	if r.ID == "" {
		return fmt.Errorf("replay ID is required")
	}

	if r.ProjectID == "" {
		return fmt.Errorf("replay ProjectID is required")
	}

	if !isValidReplayStatus(r.Status) {
		return fmt.Errorf("replay Status is invalid: %s", r.Status)
	}

	for idx, c := range r.Chunks {
		if c.StorageKey == "" {
			return fmt.Errorf("replay chunk %d is missing a storage key", idx)
		}
	}

	return nil
}

func isValidReplayStatus(s ReplayStatus) bool {
	switch s {
	case ReplayStatusPending, ReplayStatusProcessing, ReplayStatusReady, ReplayStatusFailed:
		return true
	}
	return false
}

// Session is the parent entity grouping interactions and replays captured in
// one browsing session. Only the fields retention cares about live here.
type Session struct {
	ID        string
	ProjectID string
	CreatedAt time.Time
}
