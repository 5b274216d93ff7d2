// Package llm puts the Anthropic and OpenAI clients behind one completion
// interface. Provider errors come back already classified for the retry
// controller.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cao-extract/internal/resilience"
)

// Provider names accepted in configuration.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Request is a single-turn completion request.
type Request struct {
	System      string
	CacheSystem bool
	Prompt      string
	MaxTokens   int64
	Temperature *float64

	// JSONSchema asks providers that support structured outputs to constrain
	// the response. Providers without support ignore it.
	JSONSchema map[string]any
}

// Response is the text and token usage of a completion.
type Response struct {
	Text             string
	Model            string
	StopReason       string
	InputTokens      int64
	OutputTokens     int64
	CacheWriteTokens int64
	CacheReadTokens  int64
}

// Truncated reports whether the model stopped on its token limit.
func (r *Response) Truncated() bool {
	switch r.StopReason {
	case "max_tokens", "length":
		return true
	}
	return false
}

// Completer sends one prompt and returns the model's reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Model() string
}

// classifyAPIError turns a provider error into a TransientError or
// FatalError so the retry controller can act on it without knowing the SDK.
func classifyAPIError(err error, status int, body string, hasStatus bool) error {
	if !hasStatus {
		class := resilience.Classify(err)
		if class.Retryable() {
			return &resilience.TransientError{Err: err, Class: class}
		}
		return resilience.NewFatalError(err, class)
	}
	class := resilience.ClassifyStatus(status, body)
	if class.Retryable() {
		return &resilience.TransientError{Err: err, StatusCode: status, Class: class}
	}
	return resilience.NewFatalError(err, class)
}

// Config selects and tunes a provider.
type Config struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	RequestsPerMinute int
	RequestTimeout    time.Duration
}

// New builds a Completer for cfg, rate limited when RequestsPerMinute > 0.
func New(cfg Config) (Completer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, eris.Errorf("llm: api key for provider %q is empty", cfg.Provider)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, eris.New("llm: model is empty")
	}

	var c Completer
	switch strings.ToLower(cfg.Provider) {
	case ProviderAnthropic, "":
		c = NewAnthropic(newAnthropicClient(cfg), cfg.Model)
	case ProviderOpenAI:
		c = NewOpenAI(newOpenAIClient(cfg), cfg.Model)
	default:
		return nil, eris.Errorf("llm: unknown provider %q", cfg.Provider)
	}

	if cfg.RequestsPerMinute > 0 {
		c = NewRateLimited(c, cfg.RequestsPerMinute)
	}
	return c, nil
}
