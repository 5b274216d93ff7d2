// Package pipeline coordinates a batch run: it selects documents, runs the
// context extractor and the mapper for each, persists records and reports
// every outcome to the performance monitor.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cao-extract/internal/extract"
	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/resilience"
	"github.com/sells-group/cao-extract/internal/source"
	"github.com/sells-group/cao-extract/internal/store"
)

// ContextExtractor is Stage 1.
type ContextExtractor interface {
	Extract(ctx context.Context, doc *model.Document, fields *model.FieldSet) (*model.IntermediateContext, error)
}

// Mapper is Stage 2.
type Mapper interface {
	Map(ctx context.Context, ic *model.IntermediateContext, fs *model.FieldSet, flow model.Flow) (*extract.MapResult, error)
}

// Monitor is the part of monitoring.Monitor the coordinator needs.
type Monitor interface {
	Recorder
	LatestOutcomes(ctx context.Context, flow model.Flow) (map[string]model.Outcome, error)
	Progress(ctx context.Context, flow model.Flow, target int) (model.Progress, error)
}

// Options controls document selection and pacing.
type Options struct {
	Flow          model.Flow
	Concurrency   int
	Limit         int
	Shard         Shard
	Only          []string
	SkipFailed    bool
	DebugContext  bool
	Pause         time.Duration
	ProgressEvery int
	TargetTotal   int
	DrainTimeout  time.Duration
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Source  source.Source
	Context ContextExtractor
	Mapper  Mapper
	Store   store.RecordStore
	Monitor Monitor
	Fields  *model.FieldSet
}

// Result counts what a run did.
type Result struct {
	Selected  int
	Skipped   int
	Succeeded int64
	Degraded  int64
	Failed    int64
	Exhausted int64
	Canceled  bool
}

// Processed is the number of documents that reached a terminal outcome.
func (r *Result) Processed() int64 {
	return r.Succeeded + r.Degraded + r.Failed + r.Exhausted
}

// Coordinator runs batches.
type Coordinator struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates a Coordinator.
func New(deps Deps, opts Options) *Coordinator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Flow == "" {
		opts.Flow = model.FlowNew
	}
	return &Coordinator{deps: deps, opts: opts, now: time.Now}
}

// Select returns the documents this run will process and how many were
// skipped because they are already done.
func (c *Coordinator) Select(ctx context.Context) ([]string, int, error) {
	all, err := c.deps.Source.IDs(ctx)
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: list documents")
	}
	model.SortIDs(all)

	var only map[string]bool
	if len(c.opts.Only) > 0 {
		only = make(map[string]bool, len(c.opts.Only))
		for _, id := range c.opts.Only {
			only[id] = true
		}
	}

	var failed map[string]model.Outcome
	if c.opts.SkipFailed {
		failed, err = c.deps.Monitor.LatestOutcomes(ctx, c.opts.Flow)
		if err != nil {
			return nil, 0, eris.Wrap(err, "pipeline: read previous outcomes")
		}
	}

	var ids []string
	skipped := 0
	for pos, id := range all {
		if !c.opts.Shard.Includes(pos) {
			continue
		}
		if only != nil && !only[id] {
			continue
		}
		if c.deps.Store.Exists(c.opts.Flow, id) {
			skipped++
			continue
		}
		if o, ok := failed[id]; ok && (o == model.OutcomeFailure || o == model.OutcomeRetryExhausted) {
			skipped++
			continue
		}
		ids = append(ids, id)
	}
	if c.opts.Limit > 0 && len(ids) > c.opts.Limit {
		ids = ids[:c.opts.Limit]
	}
	return ids, skipped, nil
}

// Run processes the selected documents. Per-document failures are recorded
// and never abort the batch. When ctx is cancelled no new documents start;
// documents in flight finish on a detached context for up to DrainTimeout.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	ids, skipped, err := c.Select(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{Selected: len(ids), Skipped: skipped}

	log := zap.L().With(zap.String("flow", string(c.opts.Flow)))
	if s := c.opts.Shard.String(); s != "" {
		log = log.With(zap.String("shard", s))
	}
	log.Info("pipeline: starting batch",
		zap.Int("documents", len(ids)),
		zap.Int("skipped", skipped),
		zap.Int("concurrency", c.opts.Concurrency),
	)
	if len(ids) == 0 {
		return res, nil
	}

	work, stopDrain := c.drainContext(ctx)
	defer stopDrain()

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	var done atomic.Int64

dispatch:
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && c.opts.Pause > 0 {
			select {
			case <-ctx.Done():
				break dispatch
			case <-time.After(c.opts.Pause):
			}
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			switch c.process(work, id) {
			case model.OutcomeSuccess:
				atomic.AddInt64(&res.Succeeded, 1)
			case model.OutcomeMappingDegraded:
				atomic.AddInt64(&res.Degraded, 1)
			case model.OutcomeRetryExhausted:
				atomic.AddInt64(&res.Exhausted, 1)
			default:
				atomic.AddInt64(&res.Failed, 1)
			}
			if n := done.Add(1); c.opts.ProgressEvery > 0 && n%int64(c.opts.ProgressEvery) == 0 {
				c.logProgress(work, log)
			}
			return nil // don't abort batch on individual failure
		})
	}

	if err := g.Wait(); err != nil {
		return res, eris.Wrap(err, "pipeline: batch processing")
	}
	res.Canceled = ctx.Err() != nil

	c.logProgress(work, log)
	log.Info("pipeline: batch complete",
		zap.Int64("succeeded", res.Succeeded),
		zap.Int64("degraded", res.Degraded),
		zap.Int64("failed", res.Failed),
		zap.Int64("retry_exhausted", res.Exhausted),
		zap.Int("not_started", res.Selected-int(res.Processed())),
		zap.Bool("canceled", res.Canceled),
	)
	return res, nil
}

// drainContext detaches in-flight work from ctx and cancels it DrainTimeout
// after ctx is done.
func (c *Coordinator) drainContext(ctx context.Context) (context.Context, func()) {
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var timer atomic.Pointer[time.Timer]
	stop := context.AfterFunc(ctx, func() {
		if c.opts.DrainTimeout <= 0 {
			cancel()
			return
		}
		zap.L().Warn("pipeline: cancellation requested, draining in-flight documents",
			zap.Duration("drain_timeout", c.opts.DrainTimeout))
		timer.Store(time.AfterFunc(c.opts.DrainTimeout, cancel))
	})
	return work, func() {
		stop()
		if t := timer.Load(); t != nil {
			t.Stop()
		}
		cancel()
	}
}

func (c *Coordinator) logProgress(ctx context.Context, log *zap.Logger) {
	p, err := c.deps.Monitor.Progress(ctx, c.opts.Flow, c.opts.TargetTotal)
	if err != nil {
		log.Warn("pipeline: progress unavailable", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.Int("completed", p.Completed),
		zap.Float64("docs_per_hour", p.ThroughputPerHour),
		zap.String("basis", p.Basis),
	}
	if p.Target > 0 {
		fields = append(fields,
			zap.Int("target", p.Target),
			zap.Int("remaining", p.Remaining),
			zap.Float64("percent", p.Percent),
			zap.Duration("eta_in", p.EstimatedRemaining),
		)
	}
	log.Info("pipeline: progress", fields...)
}

// process runs both stages for one document and records its terminal event.
func (c *Coordinator) process(ctx context.Context, id string) model.Outcome {
	log := zap.L().With(zap.String("document", id), zap.String("flow", string(c.opts.Flow)))
	ev := model.PerformanceEvent{
		DocumentID: id,
		Flow:       c.opts.Flow,
		Stage:      model.StageDocument,
		StartedAt:  c.now().UTC(),
		Shard:      c.opts.Shard.String(),
	}
	finish := func(outcome model.Outcome, class resilience.Class, err error) model.Outcome {
		ev.EndedAt = c.now().UTC()
		ev.Outcome = outcome
		ev.ErrorClass = string(class)
		if err != nil {
			ev.Error = err.Error()
		}
		if recErr := c.deps.Monitor.Record(context.WithoutCancel(ctx), ev); recErr != nil {
			log.Error("pipeline: record document event", zap.Error(recErr))
		}
		return outcome
	}
	fail := func(stage string, err error) model.Outcome {
		outcome, class := failureOutcome(err)
		log.Error("pipeline: document failed",
			zap.String("stage", stage),
			zap.String("outcome", string(outcome)),
			zap.String("class", string(class)),
			zap.Error(err),
		)
		return finish(outcome, class, err)
	}

	doc, err := c.deps.Source.Load(ctx, id)
	if err != nil {
		return fail("load", resilience.NewFatalError(err, resilience.ClassInvalidInput))
	}
	ev.SizeBytes = doc.Size()

	ic, err := c.deps.Context.Extract(ctx, doc, c.deps.Fields)
	if err != nil {
		doc.Status = model.DocumentFailed
		return fail("context", err)
	}
	doc.Status = model.DocumentContextExtracted
	for _, w := range ic.Warnings {
		log.Warn("pipeline: context warning", zap.String("warning", w))
	}
	if c.opts.DebugContext {
		if err := c.deps.Store.WriteContext(ctx, c.opts.Flow, ic); err != nil {
			log.Warn("pipeline: write debug context", zap.Error(err))
		}
	}

	res, err := c.deps.Mapper.Map(ctx, ic, c.deps.Fields, c.opts.Flow)
	if err != nil {
		doc.Status = model.DocumentFailed
		return fail("mapping", err)
	}
	ev.Model = res.Record.Model

	if err := c.deps.Store.Write(ctx, res.Record); err != nil {
		doc.Status = model.DocumentFailed
		return fail("persist", resilience.NewFatalError(err, resilience.ClassUnknown))
	}
	doc.Status = model.DocumentMapped

	if res.Degraded() {
		return finish(model.OutcomeMappingDegraded, resilience.ClassMalformedOutput, eris.New(res.Problem))
	}
	log.Info("pipeline: document complete",
		zap.Int("fields_found", res.Record.FoundCount()),
		zap.Int("fields", c.deps.Fields.Len()),
	)
	return finish(model.OutcomeSuccess, "", nil)
}
