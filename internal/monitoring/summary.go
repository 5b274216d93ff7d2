package monitoring

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/cao-extract/internal/model"
)

const slowestLimit = 5

// Basis values reported by Progress.
const (
	BasisWindow  = "window"
	BasisOverall = "overall"
	BasisNone    = "none"
)

type docKey struct {
	id   string
	flow model.Flow
}

// Terminal returns the latest terminal document event per (document, flow),
// ordered by document id then flow.
func Terminal(events []model.PerformanceEvent) []model.PerformanceEvent {
	latest := make(map[docKey]model.PerformanceEvent)
	for _, ev := range events {
		if ev.Stage != model.StageDocument || !ev.Outcome.Terminal() {
			continue
		}
		k := docKey{ev.DocumentID, ev.Flow}
		if prev, ok := latest[k]; ok && !ev.EndedAt.After(prev.EndedAt) {
			continue
		}
		latest[k] = ev
	}
	out := make([]model.PerformanceEvent, 0, len(latest))
	for _, ev := range latest {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].Flow < out[j].Flow
	})
	return out
}

// Summarize derives a summary from the full event log. Throughput uses the
// documents that ended within window before now, divided by the part of the
// window the log actually covers, or the whole-log mean when the window holds
// fewer than two.
func Summarize(events []model.PerformanceEvent, now time.Time, window time.Duration) model.PerformanceSummary {
	s := model.PerformanceSummary{
		GeneratedAt:   now.UTC(),
		WindowMinutes: window.Minutes(),
	}

	for _, ev := range events {
		if s.FirstEvent.IsZero() || ev.StartedAt.Before(s.FirstEvent) {
			s.FirstEvent = ev.StartedAt
		}
		if ev.EndedAt.After(s.LastEvent) {
			s.LastEvent = ev.EndedAt
		}
		if ev.Stage == model.StageDocument {
			continue
		}
		s.Attempts++
		if ev.Outcome == model.OutcomeRetry {
			s.Retries++
		}
		s.InputTokens += ev.InputTokens
		s.OutputTokens += ev.OutputTokens
		s.CostUSD += ev.CostUSD
	}

	docs := Terminal(events)
	s.Documents = len(docs)
	durations := make([]float64, 0, len(docs))
	timings := make([]model.DocumentTiming, 0, len(docs))
	since := now.Add(-window)
	for _, ev := range docs {
		switch ev.Outcome {
		case model.OutcomeSuccess:
			s.Succeeded++
		case model.OutcomeFailure:
			s.Failed++
		case model.OutcomeRetryExhausted:
			s.Exhausted++
		case model.OutcomeMappingDegraded:
			s.Degraded++
		}
		if ev.ErrorClass != "" && ev.Outcome != model.OutcomeSuccess {
			if s.ErrorClasses == nil {
				s.ErrorClasses = make(map[string]int)
			}
			s.ErrorClasses[ev.ErrorClass]++
		}
		if !ev.EndedAt.Before(since) && !ev.EndedAt.After(now) {
			s.WindowDocuments++
		}
		secs := ev.Duration().Seconds()
		durations = append(durations, secs)
		timings = append(timings, model.DocumentTiming{
			DocumentID: ev.DocumentID,
			Flow:       ev.Flow,
			Seconds:    secs,
			Outcome:    ev.Outcome,
		})
	}

	if s.Documents > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Documents)
		sort.Float64s(durations)
		var sum float64
		for _, d := range durations {
			sum += d
		}
		s.MeanSeconds = sum / float64(len(durations))
		s.P50Seconds = percentile(durations, 50)
		s.P90Seconds = percentile(durations, 90)
		s.P95Seconds = percentile(durations, 95)

		sort.SliceStable(timings, func(i, j int) bool { return timings[i].Seconds > timings[j].Seconds })
		if len(timings) > slowestLimit {
			timings = timings[:slowestLimit]
		}
		s.Slowest = timings
	}

	s.ThroughputPerHour = throughput(s, now, window)
	return s
}

func throughput(s model.PerformanceSummary, now time.Time, window time.Duration) float64 {
	if covered := min(window, now.Sub(s.FirstEvent)); s.WindowDocuments >= 2 && covered > 0 {
		return float64(s.WindowDocuments) / covered.Hours()
	}
	span := s.LastEvent.Sub(s.FirstEvent)
	if s.Documents == 0 || span <= 0 {
		return 0
	}
	return float64(s.Documents) / span.Hours()
}

// ForFlow returns the events recorded for flow. An empty flow keeps all.
func ForFlow(events []model.PerformanceEvent, flow model.Flow) []model.PerformanceEvent {
	if flow == "" {
		return events
	}
	out := make([]model.PerformanceEvent, 0, len(events))
	for _, ev := range events {
		if ev.Flow == flow {
			out = append(out, ev)
		}
	}
	return out
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// EstimateProgress projects completion of target documents from a summary.
// Pass a summary of the running flow only, see ForFlow. The estimate is
// advisory; a zero throughput leaves ETA unset.
func EstimateProgress(s model.PerformanceSummary, target int, now time.Time) model.Progress {
	p := model.Progress{
		Target:            target,
		Completed:         s.Documents,
		ThroughputPerHour: s.ThroughputPerHour,
		Basis:             BasisNone,
	}
	if target > 0 {
		p.Remaining = max(target-s.Documents, 0)
		p.Percent = math.Min(100, 100*float64(s.Documents)/float64(target))
	}
	if s.ThroughputPerHour <= 0 {
		return p
	}
	p.Basis = BasisOverall
	if s.WindowDocuments >= 2 {
		p.Basis = BasisWindow
	}
	hours := float64(p.Remaining) / s.ThroughputPerHour
	p.EstimatedRemaining = time.Duration(hours * float64(time.Hour)).Round(time.Second)
	p.ETA = now.Add(p.EstimatedRemaining).UTC()
	return p
}
