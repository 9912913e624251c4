// Package classifier integrates the optional external duplicate classifier.
// The engine only depends on the DuplicateClassifier interface so the
// clustering logic is testable without network access.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	// DefaultModel is the OpenAI model used for duplicate escalation
	DefaultModel = openai.GPT4oMini
	// DefaultRPS bounds calls against the external API
	DefaultRPS = 2
)

var (
	// ErrEmptyText is returned when the report text is empty
	ErrEmptyText = errors.New("report text cannot be empty")
	// ErrNoCandidates is returned when no candidates are supplied
	ErrNoCandidates = errors.New("candidate list cannot be empty")
	// ErrMalformedResponse is returned when the response cannot be parsed
	ErrMalformedResponse = errors.New("classifier returned a malformed response")
)

// Candidate is one prior interaction offered to the classifier.
type Candidate struct {
	ID         string
	GroupID    string
	Text       string
	Similarity float64
}

// Request carries the new report and its lexical candidates.
type Request struct {
	Text       string
	Candidates []Candidate
}

// Result is the classifier's verdict. DuplicateID is empty when the report
// is judged to be a new issue.
type Result struct {
	DuplicateID string
	Confidence  float64
	Labels      []string
}

// DuplicateClassifier decides whether a report duplicates one of the
// candidates. Implementations must be safe for concurrent use.
type DuplicateClassifier interface {
	FindDuplicate(ctx context.Context, req Request) (*Result, error)
}

// ChatAPI defines the interface for chat completion calls
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps the OpenAI API behind DuplicateClassifier.
type Client struct {
	api     ChatAPI
	model   string
	limiter *rate.Limiter
}

// Config holds explicit client configuration.
type Config struct {
	APIKey string
	Model  string
	RPS    float64
}

// NewClient creates a new classifier client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new classifier client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = DefaultRPS
	}
	return &Client{
		api:     openai.NewClient(cfg.APIKey),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

const systemInstruction = `You deduplicate bug reports and user feedback.
Given a NEW report and a numbered list of CANDIDATE reports, decide whether
the new report describes the same underlying issue as exactly one candidate.
Respond with a single JSON object:
{"duplicate_id": "<candidate id or null>", "confidence": <0..1>, "labels": ["<up to 5 short topical labels>"]}
Only name a duplicate when you are confident; otherwise use null.`

type verdict struct {
	DuplicateID *string  `json:"duplicate_id"`
	Confidence  float64  `json:"confidence"`
	Labels      []string `json:"labels"`
}

// FindDuplicate asks the external classifier to name at most one duplicate
// among the candidates. Any transport error or unparseable response is
// returned as an error; callers treat that identically to "no match".
func (c *Client) FindDuplicate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	if len(req.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("classifier rate limiter: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrMalformedResponse
	}

	return parseVerdict(resp.Choices[0].Message.Content, req.Candidates)
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("NEW REPORT:\n")
	b.WriteString(req.Text)
	b.WriteString("\n\nCANDIDATES:\n")
	for _, cand := range req.Candidates {
		fmt.Fprintf(&b, "- id=%s similarity=%.2f text=%s\n", cand.ID, cand.Similarity, cand.Text)
	}
	return b.String()
}

func parseVerdict(content string, candidates []Candidate) (*Result, error) {
	var v verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrMalformedResponse, v.Confidence)
	}

	result := &Result{Confidence: v.Confidence, Labels: v.Labels}
	if v.DuplicateID == nil || *v.DuplicateID == "" || strings.EqualFold(*v.DuplicateID, "null") {
		return result, nil
	}

	for _, cand := range candidates {
		if cand.ID == *v.DuplicateID {
			result.DuplicateID = cand.ID
			return result, nil
		}
	}

	// An id that names no candidate is a hallucination, not a match.
	return nil, fmt.Errorf("%w: unknown duplicate id %q", ErrMalformedResponse, *v.DuplicateID)
}
