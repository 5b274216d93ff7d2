// Package extract implements the two LLM stages: the context extractor that
// copies relevant text out of a document, and the mapper that turns that
// context into one value per target field.
package extract

import (
	"context"

	"github.com/sells-group/cao-extract/internal/llm"
	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/resilience"
)

// Call reports one finished attempt of an LLM call.
type Call struct {
	DocumentID string
	Stage      model.Stage
	Attempt    resilience.Attempt
	// Response is set when the attempt returned a reply.
	Response *llm.Response
}

// Observer receives every attempt made by either stage.
type Observer func(Call)

// Options tunes the LLM requests made by both stages.
type Options struct {
	MaxTokens   int64
	Temperature *float64
	CacheSystem bool
	Retry       resilience.RetryConfig
	Observer    Observer
}

// complete runs req through the retry controller and reports each attempt.
func complete(ctx context.Context, c llm.Completer, opts Options, docID string, stage model.Stage, req llm.Request) (*llm.Response, error) {
	retry := opts.Retry
	var last *llm.Response
	userHook := retry.OnAttempt
	retry.OnAttempt = func(a resilience.Attempt) {
		if userHook != nil {
			userHook(a)
		}
		if opts.Observer == nil {
			return
		}
		call := Call{DocumentID: docID, Stage: stage, Attempt: a}
		if a.Err == nil {
			call.Response = last
		}
		opts.Observer(call)
	}

	req.MaxTokens = opts.MaxTokens
	req.Temperature = opts.Temperature
	req.CacheSystem = opts.CacheSystem

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*llm.Response, error) {
		resp, err := c.Complete(ctx, req)
		last = resp
		return resp, err
	})
}
