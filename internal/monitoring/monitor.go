package monitoring

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/store"
)

// Options configures a Monitor.
type Options struct {
	RunID       string
	Window      time.Duration
	SummaryPath string
	Now         func() time.Time
}

// Monitor records performance events for one batch and derives summaries
// from the log. It owns the log until Close.
type Monitor struct {
	log         EventLog
	runID       string
	window      time.Duration
	summaryPath string
	now         func() time.Time
}

// New wraps an open event log.
func New(log EventLog, opts Options) *Monitor {
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Monitor{
		log:         log,
		runID:       opts.RunID,
		window:      opts.Window,
		summaryPath: opts.SummaryPath,
		now:         opts.Now,
	}
}

// Open opens the log at logPath with driver and returns a Monitor over it.
func Open(driver, logPath string, opts Options) (*Monitor, error) {
	log, err := OpenLog(driver, logPath)
	if err != nil {
		return nil, err
	}
	return New(log, opts), nil
}

// RunID returns the id stamped on recorded events.
func (m *Monitor) RunID() string { return m.runID }

// Record stamps ev with an id and the run id, then appends it durably.
func (m *Monitor) Record(ctx context.Context, ev model.PerformanceEvent) error {
	if ev.DocumentID == "" {
		return eris.New("monitoring: event has no document id")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.RunID == "" {
		ev.RunID = m.runID
	}
	if ev.EndedAt.IsZero() {
		ev.EndedAt = m.now().UTC()
	}
	if ev.StartedAt.IsZero() {
		ev.StartedAt = ev.EndedAt
	}
	return m.log.Append(ctx, ev)
}

// Summary recomputes the summary from the full log.
func (m *Monitor) Summary(ctx context.Context) (model.PerformanceSummary, error) {
	return m.summarize(ctx, "")
}

// Progress estimates completion of flow against target documents. Documents
// finished under the other flow do not count.
func (m *Monitor) Progress(ctx context.Context, flow model.Flow, target int) (model.Progress, error) {
	s, err := m.summarize(ctx, flow)
	if err != nil {
		return model.Progress{}, err
	}
	return EstimateProgress(s, target, m.now()), nil
}

func (m *Monitor) summarize(ctx context.Context, flow model.Flow) (model.PerformanceSummary, error) {
	events, skipped, err := m.log.Events(ctx)
	if err != nil {
		return model.PerformanceSummary{}, err
	}
	if skipped > 0 {
		zap.L().Warn("monitoring: skipped unreadable events", zap.Int("skipped", skipped))
	}
	s := Summarize(ForFlow(events, flow), m.now(), m.window)
	s.SkippedLines = skipped
	return s, nil
}

// LatestOutcomes returns the latest terminal outcome per document for flow.
func (m *Monitor) LatestOutcomes(ctx context.Context, flow model.Flow) (map[string]model.Outcome, error) {
	events, _, err := m.log.Events(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Outcome)
	for _, ev := range Terminal(events) {
		if ev.Flow == flow {
			out[ev.DocumentID] = ev.Outcome
		}
	}
	return out, nil
}

// WriteSummary recomputes the summary and atomically writes it to the
// configured summary path.
func (m *Monitor) WriteSummary(ctx context.Context) (model.PerformanceSummary, error) {
	s, err := m.Summary(ctx)
	if err != nil {
		return s, err
	}
	if m.summaryPath == "" {
		return s, eris.New("monitoring: no summary path configured")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return s, eris.Wrap(err, "monitoring: marshal summary")
	}
	if err := store.WriteFileAtomic(m.summaryPath, append(data, '\n')); err != nil {
		return s, eris.Wrap(err, "monitoring: write summary")
	}
	return s, nil
}

// Close releases the event log.
func (m *Monitor) Close() error {
	return m.log.Close()
}
