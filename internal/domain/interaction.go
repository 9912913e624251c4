package domain

import (
	"fmt"
	"time"
)

// InteractionType represents the kind of user-submitted report
type InteractionType string

const (
	InteractionTypeBug      InteractionType = "bug"
	InteractionTypeFeedback InteractionType = "feedback"
	InteractionTypeChat     InteractionType = "chat"
	InteractionTypeQuestion InteractionType = "question"
)

// InteractionStatus represents the review status of an interaction
type InteractionStatus string

const (
	InteractionStatusOpen     InteractionStatus = "open"
	InteractionStatusTriaged  InteractionStatus = "triaged"
	InteractionStatusResolved InteractionStatus = "resolved"
	InteractionStatusArchived InteractionStatus = "archived"
)

// MaxLabels caps the number of labels an interaction may carry.
const MaxLabels = 5

// InteractionContent is the structured payload captured alongside the free text.
type InteractionContent struct {
	FreeText  string            `json:"free_text,omitempty"`
	Errors    []string          `json:"errors,omitempty"`
	URL       string            `json:"url,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Interaction represents a single user-submitted report (bug, feedback, chat turn).
// Labels, DuplicateGroupID and MatchConfidence are the mutable fields owned by
// the pipeline; everything else is written by the ingest API.
type Interaction struct {
	ID               string
	ProjectID        string
	SessionID        string
	Type             InteractionType
	Status           InteractionStatus
	Severity         string
	Title            string
	Description      string
	Content          InteractionContent
	Labels           []string
	DuplicateGroupID string
	MatchConfidence  *float64
	LinkedIssueKey   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasLabels reports whether classification already committed a label set.
func (i *Interaction) HasLabels() bool {
	return len(i.Labels) > 0
}

// HasDuplicateGroup reports whether a duplicate group has been assigned.
func (i *Interaction) HasDuplicateGroup() bool {
	return i.DuplicateGroupID != ""
}

// HasLinkedIssue reports whether an external issue references this interaction.
// Linked interactions are exempt from retention deletion.
func (i *Interaction) HasLinkedIssue() bool {
	return i.LinkedIssueKey != ""
}

// ValidateInteraction validates an Interaction instance
func ValidateInteraction(i *Interaction) error {
	if i == nil {
		return fmt.Errorf("interaction cannot be nil")
	}

	if i.ID == "" {
		return fmt.Errorf("interaction ID is required")
	}

	if i.ProjectID == "" {
		return fmt.Errorf("interaction ProjectID is required")
	}

	if !isValidInteractionType(i.Type) {
		return fmt.Errorf("interaction Type is invalid: %s", i.Type)
	}

	if !isValidInteractionStatus(i.Status) {
		return fmt.Errorf("interaction Status is invalid: %s", i.Status)
	}

	if len(i.Labels) > MaxLabels {
		return fmt.Errorf("interaction carries %d labels, max is %d", len(i.Labels), MaxLabels)
	}

	if i.MatchConfidence != nil && (*i.MatchConfidence < 0 || *i.MatchConfidence > 1) {
		return ErrInvalidConfidence
	}

	return nil
}

func isValidInteractionType(t InteractionType) bool {
	switch t {
	case InteractionTypeBug, InteractionTypeFeedback, InteractionTypeChat, InteractionTypeQuestion:
		return true
	}
	return false
}

func isValidInteractionStatus(s InteractionStatus) bool {
	switch s {
	case InteractionStatusOpen, InteractionStatusTriaged, InteractionStatusResolved, InteractionStatusArchived:
		return true
	}
	return false
}
