package extract

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/cao-extract/internal/llm"
	"github.com/sells-group/cao-extract/internal/resilience"
)

// scripted replays replies (or errors) in order and records requests.
type scripted struct {
	mu       sync.Mutex
	replies  []reply
	requests []llm.Request
}

type reply struct {
	text string
	err  error
	stop string
}

func (s *scripted) Model() string { return "test-model" }

func (s *scripted) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return &llm.Response{Text: "{}", Model: "test-model"}, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Response{Text: r.text, Model: "test-model", StopReason: r.stop, InputTokens: 100, OutputTokens: 10}, nil
}

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     1,
	}
}
