package llm

import (
	"context"

	"github.com/sells-group/cao-extract/pkg/openai"
)

// OpenAI adapts an openai.Client to Completer.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI wraps client for model.
func NewOpenAI(client openai.Client, model string) *OpenAI {
	return &OpenAI{client: client, model: model}
}

func newOpenAIClient(cfg Config) openai.Client {
	return openai.NewClient(cfg.APIKey, openai.Options{BaseURL: cfg.BaseURL, RequestTimeout: cfg.RequestTimeout})
}

// Model returns the configured model name.
func (o *OpenAI) Model() string { return o.model }

// Complete sends req as a system plus user message pair. CacheSystem is a
// no-op since OpenAI caches long prefixes on its own.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	resp, err := o.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       o.model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		JSONSchema:  req.JSONSchema,
	})
	if err != nil {
		status, body, ok := openai.APIStatus(err)
		return nil, classifyAPIError(err, status, body, ok)
	}

	model := resp.Model
	if model == "" {
		model = o.model
	}
	return &Response{
		Text:         resp.Text,
		Model:        model,
		StopReason:   resp.FinishReason,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}
