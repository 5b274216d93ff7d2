package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cao-extract/internal/resilience"
	"github.com/sells-group/cao-extract/pkg/anthropic"
	"github.com/sells-group/cao-extract/pkg/openai"
)

type mockAnthropic struct{ mock.Mock }

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*anthropic.MessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockOpenAI struct{ mock.Mock }

func (m *mockOpenAI) CreateCompletion(ctx context.Context, req openai.CompletionRequest) (*openai.CompletionResponse, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*openai.CompletionResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestAnthropic_Complete(t *testing.T) {
	client := new(mockAnthropic)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku" &&
			req.MaxTokens == defaultMaxTokens &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 && req.Messages[0].Content == "doc"
	})).Return(&anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: "{}"}},
		StopReason: "end_turn",
		Usage:      anthropic.TokenUsage{InputTokens: 100, OutputTokens: 2, CacheReadInputTokens: 4000},
	}, nil)

	c := NewAnthropic(client, "claude-haiku")
	resp, err := c.Complete(context.Background(), Request{System: "fields", CacheSystem: true, Prompt: "doc"})
	require.NoError(t, err)
	assert.Equal(t, "{}", resp.Text)
	assert.Equal(t, "claude-haiku", resp.Model)
	assert.Equal(t, int64(4000), resp.CacheReadTokens)
	assert.False(t, resp.Truncated())
	client.AssertExpectations(t)
}

func TestAnthropic_NonAPIErrorClassified(t *testing.T) {
	client := new(mockAnthropic)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, eris.Wrap(errors.New("read tcp: connection reset by peer"), "anthropic: create message"))

	_, err := NewAnthropic(client, "m").Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestOpenAI_Complete(t *testing.T) {
	client := new(mockOpenAI)
	schema := map[string]any{"type": "object"}
	client.On("CreateCompletion", mock.Anything, mock.MatchedBy(func(req openai.CompletionRequest) bool {
		return req.Model == "gpt-4o-mini" && req.System == "fields" && req.JSONSchema != nil
	})).Return(&openai.CompletionResponse{
		Text:         `{"a":null}`,
		FinishReason: "length",
		InputTokens:  10,
		OutputTokens: 4096,
	}, nil)

	resp, err := NewOpenAI(client, "gpt-4o-mini").Complete(context.Background(), Request{
		System: "fields", Prompt: "ctx", JSONSchema: schema,
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.True(t, resp.Truncated())
	client.AssertExpectations(t)
}

func TestNew_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		errType   string
		wantClass resilience.Class
		transient bool
	}{
		{"overloaded", 529, "overloaded_error", resilience.ClassTransient, true},
		{"rate limited", 429, "rate_limit_error", resilience.ClassRateLimit, true},
		{"unavailable", 503, "api_error", resilience.ClassTransient, true},
		{"auth", 401, "authentication_error", resilience.ClassAuth, false},
		{"invalid", 400, "invalid_request_error", resilience.ClassInvalidInput, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
					"type":  "error",
					"error": map[string]any{"type": tt.errType, "message": "nope"},
				})
			}))
			defer ts.Close()

			c, err := New(Config{Provider: ProviderAnthropic, Model: "claude-haiku", APIKey: "k", BaseURL: ts.URL})
			require.NoError(t, err)
			_, err = c.Complete(context.Background(), Request{Prompt: "x", MaxTokens: 16})
			require.Error(t, err)
			assert.Equal(t, tt.wantClass, resilience.Classify(err))
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Provider: ProviderAnthropic, Model: "m"})
	assert.Error(t, err)

	_, err = New(Config{Provider: ProviderAnthropic, APIKey: "k"})
	assert.Error(t, err)

	_, err = New(Config{Provider: "gemini", Model: "m", APIKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")

	c, err := New(Config{Provider: ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "k", RequestsPerMinute: 60})
	require.NoError(t, err)
	_, ok := c.(*RateLimited)
	assert.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", c.Model())
}
