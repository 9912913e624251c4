// Package service implements the analysis pipeline: classification and
// deduplication of interactions, replay sanitization, and retention sweeps.
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lumenfeed/lumenfeed/internal/cache"
	"github.com/lumenfeed/lumenfeed/internal/classifier"
	"github.com/lumenfeed/lumenfeed/internal/domain"
	"github.com/lumenfeed/lumenfeed/internal/telemetry"
)

// Policy constants for candidate retrieval and duplicate acceptance. The
// thresholds are deliberately kept as named constants rather than tuned.
const (
	CandidateWindow = 30 * 24 * time.Hour
	CandidateLimit  = 100
	MinSimilarity   = 0.5
	TopCandidates   = 5

	ExternalConfidenceThreshold  = 0.7
	HeuristicSimilarityThreshold = 0.8

	ScanWindow = 7 * 24 * time.Hour
	ScanLimit  = 50
)

// Result statuses reported by the pipeline stages.
const (
	ResultClassified = "classified"
	ResultSkipped    = "skipped"
)

// InteractionStore defines the persistence operations the classification
// engine needs.
type InteractionStore interface {
	GetByID(ctx context.Context, id string) (*domain.Interaction, error)
	SetLabels(ctx context.Context, id string, labels []string) error
	AssignDuplicateGroup(ctx context.Context, id, groupID string, confidence *float64) error
	ListDedupCandidates(ctx context.Context, projectID string, itype domain.InteractionType, since time.Time, limit int) ([]*domain.Interaction, error)
	ListUnclustered(ctx context.Context, projectID string, since time.Time, limit int) ([]*domain.Interaction, error)
}

// SettingsStore resolves per-project analysis settings.
type SettingsStore interface {
	ListProjectIDs(ctx context.Context) ([]string, error)
	GetSettings(ctx context.Context, projectID string) (*domain.ProjectSettings, error)
}

// ClassifyResult reports what one classification run did.
type ClassifyResult struct {
	Status     string   `json:"status"`
	GroupID    string   `json:"group_id,omitempty"`
	Matched    bool     `json:"matched"`
	Confidence float64  `json:"confidence,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}

// ClassificationService clusters interactions into duplicate groups and
// assigns rule-based labels.
type ClassificationService struct {
	interactions InteractionStore
	settings     SettingsStore
	classifier   classifier.DuplicateClassifier
	cache        *cache.SettingsCache
}

// NewClassificationService creates the engine. The external classifier and
// the settings cache are both optional and may be nil.
func NewClassificationService(interactions InteractionStore, settings SettingsStore, dc classifier.DuplicateClassifier, sc *cache.SettingsCache) *ClassificationService {
	return &ClassificationService{
		interactions: interactions,
		settings:     settings,
		classifier:   dc,
		cache:        sc,
	}
}

// Classify runs the full pipeline for one interaction. Reprocessing an
// already-classified interaction is a guarded no-op reported as skipped.
func (s *ClassificationService) Classify(ctx context.Context, interactionID string) (*ClassifyResult, error) {
	i, err := s.interactions.GetByID(ctx, interactionID)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "classification.classify", telemetry.SpanAttributes{
		ProjectID:     i.ProjectID,
		InteractionID: i.ID,
	})
	defer span.End()

	settings, err := s.projectSettings(ctx, i.ProjectID)
	if err != nil {
		return nil, err
	}
	if !settings.ClassificationEnabled {
		return &ClassifyResult{Status: ResultSkipped}, nil
	}

	return s.classifyInteraction(ctx, i)
}

// ScanBacklog runs the pipeline over recent unclustered interactions in every
// project with classification enabled. It exists to catch interactions
// created while classification was disabled or during outages.
func (s *ClassificationService) ScanBacklog(ctx context.Context) error {
	projectIDs, err := s.settings.ListProjectIDs(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	for _, projectID := range projectIDs {
		settings, err := s.projectSettings(ctx, projectID)
		if err != nil {
			log.Printf("Backlog scan: error loading settings for project %s: %v", projectID, err)
			continue
		}
		if !settings.ClassificationEnabled {
			continue
		}

		since := time.Now().UTC().Add(-ScanWindow)
		backlog, err := s.interactions.ListUnclustered(ctx, projectID, since, ScanLimit)
		if err != nil {
			log.Printf("Backlog scan: error listing interactions for project %s: %v", projectID, err)
			continue
		}

		for _, i := range backlog {
			if _, err := s.classifyInteraction(ctx, i); err != nil {
				log.Printf("Backlog scan: error classifying interaction %s: %v", i.ID, err)
			}
		}
	}
	return nil
}

func (s *ClassificationService) classifyInteraction(ctx context.Context, i *domain.Interaction) (*ClassifyResult, error) {
	if i.Type != domain.InteractionTypeBug && i.Type != domain.InteractionTypeFeedback {
		return &ClassifyResult{Status: ResultSkipped}, nil
	}

	labelsDone := i.HasLabels()
	dedupDone := i.HasDuplicateGroup()
	if labelsDone && dedupDone {
		return &ClassifyResult{Status: ResultSkipped}, nil
	}

	text := BuildContext(i)
	if text == "" {
		return &ClassifyResult{Status: ResultSkipped}, nil
	}

	result := &ClassifyResult{Status: ResultClassified}
	ruleLabels := ApplyLabelRules(text)
	var externalLabels []string

	if !dedupDone {
		groupID, confidence, extLabels, err := s.resolveDuplicateGroup(ctx, i, text)
		if err != nil {
			return nil, err
		}
		externalLabels = extLabels

		if err := s.interactions.AssignDuplicateGroup(ctx, i.ID, groupID, confidence); err != nil {
			return nil, fmt.Errorf("assign duplicate group: %w", err)
		}
		result.GroupID = groupID
		if confidence != nil {
			result.Matched = true
			result.Confidence = *confidence
		}
	}

	if !labelsDone {
		merged := MergeLabels(ruleLabels, externalLabels)
		if len(merged) > 0 {
			if err := s.interactions.SetLabels(ctx, i.ID, merged); err != nil {
				return nil, fmt.Errorf("set labels: %w", err)
			}
			result.Labels = merged
		}
	}

	return result, nil
}

// resolveDuplicateGroup decides which group the interaction belongs to.
// Returns the adopted group id and a non-nil confidence on a match, or a
// freshly minted group id with nil confidence when no match is accepted.
func (s *ClassificationService) resolveDuplicateGroup(ctx context.Context, i *domain.Interaction, text string) (string, *float64, []string, error) {
	since := time.Now().UTC().Add(-CandidateWindow)
	candidates, err := s.interactions.ListDedupCandidates(ctx, i.ProjectID, i.Type, since, CandidateLimit)
	if err != nil {
		return "", nil, nil, fmt.Errorf("list candidates: %w", err)
	}

	scored := scoreCandidates(text, candidates, i.ID)

	if s.classifier != nil && len(scored) > 0 {
		groupID, confidence, labels, ok := s.escalate(ctx, text, scored)
		if ok {
			return groupID, &confidence, labels, nil
		}
		if groupID == "" && len(labels) > 0 {
			// The external service declined the match but still suggested
			// labels; keep them for the labeling stage.
			return s.fallback(text, scored, labels)
		}
	}

	return s.fallback(text, scored, nil)
}

func (s *ClassificationService) fallback(text string, scored []classifier.Candidate, labels []string) (string, *float64, []string, error) {
	if len(scored) > 0 && scored[0].Similarity > HeuristicSimilarityThreshold {
		confidence := scored[0].Similarity
		return scored[0].GroupID, &confidence, labels, nil
	}
	return GroupDigest(text), nil, labels, nil
}

// escalate asks the external classifier to pick a duplicate among the top
// candidates. Any failure degrades to the heuristic path, never aborting the
// classification run.
func (s *ClassificationService) escalate(ctx context.Context, text string, scored []classifier.Candidate) (groupID string, confidence float64, labels []string, ok bool) {
	verdict, err := s.classifier.FindDuplicate(ctx, classifier.Request{
		Text:       text,
		Candidates: scored,
	})
	if err != nil {
		log.Printf("External classifier failed, falling back to heuristic: %v", err)
		telemetry.CaptureError(ctx, err)
		return "", 0, nil, false
	}

	if verdict.DuplicateID == "" || verdict.Confidence <= ExternalConfidenceThreshold {
		return "", 0, verdict.Labels, false
	}

	for _, c := range scored {
		if c.ID == verdict.DuplicateID {
			return c.GroupID, verdict.Confidence, verdict.Labels, true
		}
	}
	// parseVerdict guarantees the id names a candidate, but guard anyway.
	return "", 0, verdict.Labels, false
}

// scoreCandidates computes lexical similarity between the new text and each
// candidate, keeping those above the similarity floor, best first, capped at
// the top-candidate limit.
func scoreCandidates(text string, candidates []*domain.Interaction, excludeID string) []classifier.Candidate {
	tokens := Tokenize(text)

	var scored []classifier.Candidate
	for _, c := range candidates {
		if c.ID == excludeID {
			continue
		}
		candidateText := BuildContext(c)
		sim := Jaccard(tokens, Tokenize(candidateText))
		if sim <= MinSimilarity {
			continue
		}
		scored = append(scored, classifier.Candidate{
			ID:         c.ID,
			GroupID:    c.DuplicateGroupID,
			Text:       candidateText,
			Similarity: sim,
		})
	}

	// Insertion sort keeps it simple for the small candidate sets involved.
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Similarity > scored[j-1].Similarity; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	if len(scored) > TopCandidates {
		scored = scored[:TopCandidates]
	}
	return scored
}

// projectSettings reads settings through the optional cache.
func (s *ClassificationService) projectSettings(ctx context.Context, projectID string) (*domain.ProjectSettings, error) {
	if settings, ok := s.cache.Get(ctx, projectID); ok {
		return settings, nil
	}

	settings, err := s.settings.GetSettings(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, settings); err != nil {
		log.Printf("Error caching settings for project %s: %v", projectID, err)
	}
	return settings, nil
}
