package domain

import "time"

// Default retention windows, in days. Applied when a project has no explicit
// policy for an entity class.
const (
	DefaultInteractionRetentionDays = 365
	DefaultSessionRetentionDays     = 90
	DefaultReplayRetentionDays      = 30
	DefaultAuditLogRetentionDays    = 730
)

// RetentionPolicy maps entity class to retention window in days.
// Zero values fall back to the defaults above.
type RetentionPolicy struct {
	InteractionDays int `json:"interaction_days,omitempty"`
	SessionDays     int `json:"session_days,omitempty"`
	ReplayDays      int `json:"replay_days,omitempty"`
	AuditLogDays    int `json:"audit_log_days,omitempty"`
}

// DefaultRetentionPolicy returns the policy used when a project has no settings.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		InteractionDays: DefaultInteractionRetentionDays,
		SessionDays:     DefaultSessionRetentionDays,
		ReplayDays:      DefaultReplayRetentionDays,
		AuditLogDays:    DefaultAuditLogRetentionDays,
	}
}

// WithDefaults fills unset windows with the default values.
func (p RetentionPolicy) WithDefaults() RetentionPolicy {
	if p.InteractionDays <= 0 {
		p.InteractionDays = DefaultInteractionRetentionDays
	}
	if p.SessionDays <= 0 {
		p.SessionDays = DefaultSessionRetentionDays
	}
	if p.ReplayDays <= 0 {
		p.ReplayDays = DefaultReplayRetentionDays
	}
	if p.AuditLogDays <= 0 {
		p.AuditLogDays = DefaultAuditLogRetentionDays
	}
	return p
}

// Cutoff computes the deletion cutoff for a window of the given number of days.
// Entities created strictly before the cutoff are eligible for deletion.
func Cutoff(now time.Time, days int) time.Time {
	return now.UTC().Add(-time.Duration(days) * 24 * time.Hour)
}

// ProjectSettings holds the per-project configuration the pipeline reads.
type ProjectSettings struct {
	ProjectID             string          `json:"project_id"`
	ClassificationEnabled bool            `json:"classification_enabled"`
	Retention             RetentionPolicy `json:"retention"`
}
