package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cao-extract/internal/extract"
	"github.com/sells-group/cao-extract/internal/llm"
	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/monitoring"
	"github.com/sells-group/cao-extract/internal/resilience"
	"github.com/sells-group/cao-extract/internal/store"
)

type fakeSource struct {
	ids     []string
	loadErr map[string]error
}

func (s *fakeSource) IDs(context.Context) ([]string, error) {
	return append([]string(nil), s.ids...), nil
}

func (s *fakeSource) Load(_ context.Context, id string) (*model.Document, error) {
	if err := s.loadErr[id]; err != nil {
		return nil, err
	}
	return &model.Document{ID: id, Pages: []model.Page{{Number: 1, Text: "Uurloon 12,50 EUR voor " + id}}}, nil
}

type fakeContext struct {
	mu    sync.Mutex
	seen  []string
	errs  map[string]error
	block chan struct{}
}

func (f *fakeContext) Extract(ctx context.Context, doc *model.Document, _ *model.FieldSet) (*model.IntermediateContext, error) {
	f.mu.Lock()
	f.seen = append(f.seen, doc.ID)
	err := f.errs[doc.ID]
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if err != nil {
		return nil, err
	}
	return &model.IntermediateContext{
		DocumentID: doc.ID,
		Sections:   []model.Section{{Category: "wage_information", Blocks: []string{doc.Pages[0].Text}}},
	}, nil
}

func (f *fakeContext) processed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.seen...)
	sort.Strings(out)
	return out
}

type fakeMapper struct {
	degrade map[string]bool
}

func (m *fakeMapper) Map(_ context.Context, ic *model.IntermediateContext, fs *model.FieldSet, flow model.Flow) (*extract.MapResult, error) {
	rec := model.NewRecord(ic.DocumentID, flow, fs)
	rec.Model = "test-model"
	if m.degrade[ic.DocumentID] {
		rec.Degraded = true
		return &extract.MapResult{Record: rec, Problem: "reply is not a JSON object"}, nil
	}
	rec.Fields["wage"] = model.Found("12,50")
	return &extract.MapResult{Record: rec}, nil
}

type harness struct {
	src    *fakeSource
	ctxExt *fakeContext
	mapper *fakeMapper
	store  *store.FileStore
	mon    *monitoring.Monitor
	fields *model.FieldSet
}

func newHarness(t *testing.T, ids ...string) *harness {
	t.Helper()
	dir := t.TempDir()
	mon, err := monitoring.Open(monitoring.DriverJSONL, filepath.Join(dir, "logs", "events.jsonl"), monitoring.Options{RunID: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mon.Close() })
	fs, err := model.NewFieldSet([]model.FieldSpec{{Name: "wage"}, {Name: "notes"}})
	require.NoError(t, err)
	return &harness{
		src:    &fakeSource{ids: ids},
		ctxExt: &fakeContext{},
		mapper: &fakeMapper{},
		store:  store.NewFileStore(filepath.Join(dir, "outputs")),
		mon:    mon,
		fields: fs,
	}
}

func (h *harness) coordinator(opts Options) *Coordinator {
	return New(Deps{
		Source:  h.src,
		Context: h.ctxExt,
		Mapper:  h.mapper,
		Store:   h.store,
		Monitor: h.mon,
		Fields:  h.fields,
	}, opts)
}

func (h *harness) documentEvents(t *testing.T) map[string]model.Outcome {
	t.Helper()
	out, err := h.mon.LatestOutcomes(context.Background(), model.FlowNew)
	require.NoError(t, err)
	return out
}

func seqIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%02d", i)
	}
	return out
}

func TestRun_ProcessesAllAndPersists(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "3", "1", "2")

	res, err := h.coordinator(Options{Flow: model.FlowNew}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Selected)
	assert.Equal(t, int64(3), res.Succeeded)

	for _, id := range []string{"1", "2", "3"} {
		rec, err := h.store.Read(ctx, model.FlowNew, id)
		require.NoError(t, err)
		assert.True(t, rec.Complete(h.fields), "record covers every field")
		assert.Equal(t, "12,50", rec.Fields["wage"].Text)
		assert.False(t, rec.Fields["notes"].Found)
	}
	assert.Equal(t, map[string]model.Outcome{
		"1": model.OutcomeSuccess, "2": model.OutcomeSuccess, "3": model.OutcomeSuccess,
	}, h.documentEvents(t))
}

func TestRun_ResumeSkipsPersisted(t *testing.T) {
	ctx := context.Background()
	all := seqIDs(10)
	h := newHarness(t, all...)
	for _, id := range all[:3] {
		require.NoError(t, h.store.Write(ctx, model.NewRecord(id, model.FlowNew, h.fields)))
	}

	res, err := h.coordinator(Options{Flow: model.FlowNew, Concurrency: 3}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Selected)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, all[3:], h.ctxExt.processed())

	// A second run has nothing left to do.
	res, err = h.coordinator(Options{Flow: model.FlowNew}).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Selected)
	assert.Equal(t, 10, res.Skipped)
}

func TestRun_FailuresDoNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1", "2", "3", "4")
	h.src.loadErr = map[string]error{"1": errors.New("broken json")}
	h.ctxExt.errs = map[string]error{
		"2": &resilience.ExhaustedError{Err: errors.New("503"), Attempts: 3, Class: resilience.ClassTransient},
		"3": resilience.NewFatalError(errors.New("invalid x-api-key"), resilience.ClassAuth),
	}

	res, err := h.coordinator(Options{Flow: model.FlowNew}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Succeeded)
	assert.Equal(t, int64(2), res.Failed)
	assert.Equal(t, int64(1), res.Exhausted)

	assert.Equal(t, map[string]model.Outcome{
		"1": model.OutcomeFailure,
		"2": model.OutcomeRetryExhausted,
		"3": model.OutcomeFailure,
		"4": model.OutcomeSuccess,
	}, h.documentEvents(t))
	for _, id := range []string{"1", "2", "3"} {
		assert.False(t, h.store.Exists(model.FlowNew, id), "failed document %s has no record", id)
	}

	s, err := h.mon.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"invalid_input": 1, "transient": 1, "auth": 1}, s.ErrorClasses)
}

// failFor answers every prompt that mentions marker with a 503 and every
// other prompt with reply.
type failFor struct {
	marker string
	reply  string
	failed atomic.Int32
}

func (f *failFor) Model() string { return "claude-haiku-4-5" }

func (f *failFor) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	if strings.Contains(req.Prompt, f.marker) {
		f.failed.Add(1)
		return nil, resilience.NewTransientError(errors.New("service unavailable"), 503)
	}
	return &llm.Response{Text: f.reply, Model: f.Model(), InputTokens: 100, OutputTokens: 20}, nil
}

func TestRun_TransientFailuresExhaustRetriesAndBatchContinues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "CAO-OK", "CAO-FAIL")
	logPath := filepath.Join(t.TempDir(), "events.jsonl")
	mon, err := monitoring.Open(monitoring.DriverJSONL, logPath, monitoring.Options{})
	require.NoError(t, err)
	defer mon.Close() //nolint:errcheck
	h.mon = mon

	const attempts = 3
	completer := &failFor{marker: "CAO-FAIL", reply: `{"wage_information": ["Uurloon 12,50 EUR"]}`}
	ext := extract.NewContextExtractor(completer, extract.DefaultPrompts(), nil, 0, extract.Options{
		Retry:    fastRetry(attempts),
		Observer: AttemptObserver(mon, model.FlowNew, nil, Shard{}),
	})

	res, err := New(Deps{
		Source:  h.src,
		Context: ext,
		Mapper:  h.mapper,
		Store:   h.store,
		Monitor: mon,
		Fields:  h.fields,
	}, Options{Flow: model.FlowNew}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Exhausted)
	assert.Equal(t, int64(1), res.Succeeded)
	assert.Equal(t, int32(attempts), completer.failed.Load())

	events, skipped, err := monitoring.ReadFileLog(ctx, logPath)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	var stages []model.Outcome
	for _, ev := range events {
		if ev.DocumentID == "CAO-FAIL" && ev.Stage == model.StageContext {
			stages = append(stages, ev.Outcome)
			assert.Equal(t, "transient", ev.ErrorClass)
		}
	}
	assert.Equal(t, []model.Outcome{model.OutcomeRetry, model.OutcomeRetry, model.OutcomeRetryExhausted}, stages)

	assert.Equal(t, map[string]model.Outcome{
		"CAO-FAIL": model.OutcomeRetryExhausted,
		"CAO-OK":   model.OutcomeSuccess,
	}, h.documentEvents(t))
	assert.True(t, h.store.Exists(model.FlowNew, "CAO-OK"))
	assert.False(t, h.store.Exists(model.FlowNew, "CAO-FAIL"))
}

func TestRun_DegradedMapping(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "7")
	h.mapper.degrade = map[string]bool{"7": true}

	res, err := h.coordinator(Options{Flow: model.FlowNew}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Degraded)
	assert.Equal(t, model.OutcomeMappingDegraded, h.documentEvents(t)["7"])

	rec, err := h.store.Read(ctx, model.FlowNew, "7")
	require.NoError(t, err)
	assert.True(t, rec.Degraded)
	assert.Zero(t, rec.FoundCount())
}

func TestRun_SkipFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "1", "2")
	h.ctxExt.errs = map[string]error{"1": resilience.NewFatalError(errors.New("bad"), resilience.ClassInvalidInput)}
	_, err := h.coordinator(Options{Flow: model.FlowNew}).Run(ctx)
	require.NoError(t, err)

	h.ctxExt = &fakeContext{}
	res, err := h.coordinator(Options{Flow: model.FlowNew, SkipFailed: true}).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Selected)
	assert.Equal(t, 2, res.Skipped)

	res, err = h.coordinator(Options{Flow: model.FlowNew}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Selected)
	assert.Equal(t, []string{"1"}, h.ctxExt.processed())
}

func TestSelect_ShardLimitAndOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "10", "2", "33", "4", "5", "6")

	got, _, err := h.coordinator(Options{Shard: Shard{Index: 1, Count: 2}}).Select(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "6", "33"}, got)

	got, _, err = h.coordinator(Options{Limit: 2}).Select(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "4"}, got)

	got, _, err = h.coordinator(Options{Only: []string{"33", "nope"}}).Select(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"33"}, got)
}

func TestRun_CanceledBeforeStart(t *testing.T) {
	h := newHarness(t, "1", "2")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.coordinator(Options{Flow: model.FlowNew}).Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Canceled)
	assert.Zero(t, res.Processed())
	assert.Empty(t, h.ctxExt.processed())
}

func TestRun_DrainsInFlightOnCancel(t *testing.T) {
	h := newHarness(t, "1", "2", "3")
	h.ctxExt.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan *Result, 1)
	go func() {
		res, err := h.coordinator(Options{Flow: model.FlowNew, DrainTimeout: time.Minute}).Run(ctx)
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool { return len(h.ctxExt.processed()) == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	close(h.ctxExt.block)

	select {
	case res := <-done:
		assert.True(t, res.Canceled)
		assert.Equal(t, int64(1), res.Succeeded, "in-flight document finishes")
		assert.Equal(t, []string{"1"}, h.ctxExt.processed())
		assert.True(t, h.store.Exists(model.FlowNew, "1"))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
