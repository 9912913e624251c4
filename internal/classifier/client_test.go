package classifier

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeChatAPI struct {
	content string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (f *fakeChatAPI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func newTestClient(api ChatAPI) *Client {
	return &Client{
		api:     api,
		model:   DefaultModel,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

func testRequest() Request {
	return Request{
		Text: "payment button does nothing on checkout",
		Candidates: []Candidate{
			{ID: "int-1", GroupID: "dup_a", Text: "checkout button broken", Similarity: 0.72},
			{ID: "int-2", GroupID: "dup_b", Text: "page is slow", Similarity: 0.55},
		},
	}
}

func TestFindDuplicate_Match(t *testing.T) {
	api := &fakeChatAPI{content: `{"duplicate_id":"int-1","confidence":0.91,"labels":["checkout"]}`}
	client := newTestClient(api)

	result, err := client.FindDuplicate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "int-1", result.DuplicateID)
	assert.InDelta(t, 0.91, result.Confidence, 1e-9)
	assert.Equal(t, []string{"checkout"}, result.Labels)

	// Candidate texts must reach the external service.
	assert.Contains(t, api.lastReq.Messages[1].Content, "checkout button broken")
	assert.Equal(t, float32(0), api.lastReq.Temperature)
}

func TestFindDuplicate_NoMatch(t *testing.T) {
	api := &fakeChatAPI{content: `{"duplicate_id":null,"confidence":0.2,"labels":[]}`}
	client := newTestClient(api)

	result, err := client.FindDuplicate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Empty(t, result.DuplicateID)
}

func TestFindDuplicate_MalformedResponses(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "sorry, I cannot help with that"},
		{"confidence out of range", `{"duplicate_id":"int-1","confidence":3.2}`},
		{"unknown candidate id", `{"duplicate_id":"int-999","confidence":0.9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(&fakeChatAPI{content: tt.content})
			_, err := client.FindDuplicate(context.Background(), testRequest())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestFindDuplicate_TransportError(t *testing.T) {
	client := newTestClient(&fakeChatAPI{err: errors.New("connection refused")})
	_, err := client.FindDuplicate(context.Background(), testRequest())
	assert.Error(t, err)
}

func TestFindDuplicate_InputValidation(t *testing.T) {
	client := newTestClient(&fakeChatAPI{})

	_, err := client.FindDuplicate(context.Background(), Request{Text: "  "})
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = client.FindDuplicate(context.Background(), Request{Text: "report"})
	assert.ErrorIs(t, err, ErrNoCandidates)
}
