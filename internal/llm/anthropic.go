package llm

import (
	"context"

	"github.com/sells-group/cao-extract/pkg/anthropic"
)

const defaultMaxTokens = 4096

// Anthropic adapts an anthropic.Client to Completer.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic wraps client for model.
func NewAnthropic(client anthropic.Client, model string) *Anthropic {
	return &Anthropic{client: client, model: model}
}

func newAnthropicClient(cfg Config) anthropic.Client {
	return anthropic.NewClient(cfg.APIKey, anthropic.Options{BaseURL: cfg.BaseURL, RequestTimeout: cfg.RequestTimeout})
}

// Model returns the configured model name.
func (a *Anthropic) Model() string { return a.model }

// Complete sends req as a single user message.
func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	system := anthropic.BuildSystemBlocks(req.System)
	if req.CacheSystem {
		system = anthropic.BuildCachedSystemBlocks(req.System)
	}

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	})
	if err != nil {
		status, body, ok := anthropic.APIStatus(err)
		return nil, classifyAPIError(err, status, body, ok)
	}

	model := resp.Model
	if model == "" {
		model = a.model
	}
	return &Response{
		Text:             resp.Text(),
		Model:            model,
		StopReason:       resp.StopReason,
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
		CacheReadTokens:  resp.Usage.CacheReadInputTokens,
	}, nil
}
