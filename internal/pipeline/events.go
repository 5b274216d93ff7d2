package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/cost"
	"github.com/sells-group/cao-extract/internal/extract"
	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/resilience"
)

// Recorder persists performance events.
type Recorder interface {
	Record(ctx context.Context, ev model.PerformanceEvent) error
}

// AttemptObserver returns an extract.Observer that records one stage event
// per LLM attempt, with token usage and estimated cost.
func AttemptObserver(rec Recorder, flow model.Flow, costs *cost.Calculator, shard Shard) extract.Observer {
	return func(call extract.Call) {
		a := call.Attempt
		ev := model.PerformanceEvent{
			DocumentID: call.DocumentID,
			Flow:       flow,
			Stage:      call.Stage,
			Attempt:    a.Number,
			StartedAt:  a.Start.UTC(),
			EndedAt:    a.End.UTC(),
			Outcome:    attemptOutcome(a),
			Shard:      shard.String(),
		}
		if a.Err != nil {
			ev.ErrorClass = string(a.Class)
			ev.Error = a.Err.Error()
		}
		if r := call.Response; r != nil {
			ev.Model = r.Model
			ev.InputTokens = r.InputTokens + r.CacheWriteTokens + r.CacheReadTokens
			ev.OutputTokens = r.OutputTokens
			if costs != nil {
				ev.CostUSD = costs.Cost(r.Model, cost.Usage{
					Input:      r.InputTokens,
					Output:     r.OutputTokens,
					CacheWrite: r.CacheWriteTokens,
					CacheRead:  r.CacheReadTokens,
				})
			}
		}
		if err := rec.Record(context.Background(), ev); err != nil {
			zap.L().Error("pipeline: record attempt event",
				zap.String("document", call.DocumentID),
				zap.String("stage", string(call.Stage)),
				zap.Error(err),
			)
		}
	}
}

func attemptOutcome(a resilience.Attempt) model.Outcome {
	switch {
	case a.Err == nil:
		return model.OutcomeSuccess
	case a.WillRetry:
		return model.OutcomeRetry
	case a.Exhausted:
		return model.OutcomeRetryExhausted
	}
	return model.OutcomeFailure
}

// failureOutcome maps a per-document error to its terminal outcome.
func failureOutcome(err error) (model.Outcome, resilience.Class) {
	class := resilience.ErrorClass(err)
	if errors.Is(err, resilience.ErrRetryExhausted) {
		return model.OutcomeRetryExhausted, class
	}
	return model.OutcomeFailure, class
}
