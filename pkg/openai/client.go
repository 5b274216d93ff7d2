package openai

import (
	"context"
	"errors"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rotisserie/eris"
)

// Client defines the OpenAI chat operations used by the extractor.
type Client interface {
	CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single-turn chat completion request.
type CompletionRequest struct {
	Model       string
	MaxTokens   int64
	System      string
	Prompt      string
	Temperature *float64

	// JSONSchema, when set, constrains the response via structured outputs.
	JSONSchema map[string]any
	SchemaName string
	Strict     bool
}

// CompletionResponse is our own response type from CreateCompletion.
type CompletionResponse struct {
	ID           string
	Model        string
	Text         string
	FinishReason string
	InputTokens  int64
	OutputTokens int64
}

// Options tunes the SDK client.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates an OpenAI client backed by the SDK with SDK retries disabled.
func NewClient(apiKey string, opts Options) Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.RequestTimeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.RequestTimeout))
	}
	return &sdkClient{client: sdk.NewClient(reqOpts...)}
}

func (c *sdkClient) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, sdk.SystemMessage(req.System))
	}
	messages = append(messages, sdk.UserMessage(req.Prompt))

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.JSONSchema != nil {
		name := req.SchemaName
		if name == "" {
			name = "extraction_result"
		}
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &sdk.ResponseFormatJSONSchemaParam{
				JSONSchema: sdk.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: req.JSONSchema,
					Strict: sdk.Bool(req.Strict),
				},
			},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "openai: create completion")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: no choices in response")
	}

	return &CompletionResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// APIStatus extracts the HTTP status code and error code/body from an SDK
// error anywhere in err's chain.
func APIStatus(err error) (int, string, bool) {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return 0, "", false
	}
	return apiErr.StatusCode, apiErr.Code + " " + apiErr.RawJSON(), true
}
