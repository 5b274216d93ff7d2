package model

import "time"

// Stage identifies the unit of work a PerformanceEvent describes.
type Stage string

const (
	StageContext  Stage = "context"
	StageMapping  Stage = "mapping"
	StageDocument Stage = "document"
)

// Outcome is the result of an attempt or a document.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeRetry           Outcome = "retry"
	OutcomeFailure         Outcome = "failure"
	OutcomeRetryExhausted  Outcome = "retry_exhausted"
	OutcomeMappingDegraded Outcome = "mapping_degraded"
)

// Terminal reports whether the outcome ends a document.
func (o Outcome) Terminal() bool {
	return o != OutcomeRetry
}

// PerformanceEvent is one append-only monitor record. Stage events describe
// a single LLM attempt; document events close out a document.
type PerformanceEvent struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id,omitempty"`
	DocumentID   string    `json:"document_id"`
	Flow         Flow      `json:"flow"`
	Stage        Stage     `json:"stage"`
	Attempt      int       `json:"attempt,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Outcome      Outcome   `json:"outcome"`
	ErrorClass   string    `json:"error_class,omitempty"`
	Error        string    `json:"error,omitempty"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int64     `json:"input_tokens,omitempty"`
	OutputTokens int64     `json:"output_tokens,omitempty"`
	CostUSD      float64   `json:"cost_usd,omitempty"`
	SizeBytes    int       `json:"size_bytes,omitempty"`
	Shard        string    `json:"shard,omitempty"`
}

// Duration returns EndedAt - StartedAt, never negative.
func (e PerformanceEvent) Duration() time.Duration {
	d := e.EndedAt.Sub(e.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// DocumentTiming is a per-document latency entry in a summary.
type DocumentTiming struct {
	DocumentID string  `json:"document_id"`
	Flow       Flow    `json:"flow"`
	Seconds    float64 `json:"seconds"`
	Outcome    Outcome `json:"outcome"`
}

// PerformanceSummary is derived from the event log on demand.
type PerformanceSummary struct {
	GeneratedAt       time.Time        `json:"generated_at"`
	Documents         int              `json:"documents"`
	Succeeded         int              `json:"succeeded"`
	Failed            int              `json:"failed"`
	Exhausted         int              `json:"retry_exhausted"`
	Degraded          int              `json:"mapping_degraded"`
	Attempts          int              `json:"attempts"`
	Retries           int              `json:"retries"`
	SuccessRate       float64          `json:"success_rate"`
	MeanSeconds       float64          `json:"mean_seconds"`
	P50Seconds        float64          `json:"p50_seconds"`
	P90Seconds        float64          `json:"p90_seconds"`
	P95Seconds        float64          `json:"p95_seconds"`
	WindowMinutes     float64          `json:"window_minutes"`
	WindowDocuments   int              `json:"window_documents"`
	ThroughputPerHour float64          `json:"throughput_per_hour"`
	InputTokens       int64            `json:"input_tokens"`
	OutputTokens      int64            `json:"output_tokens"`
	CostUSD           float64          `json:"cost_usd"`
	ErrorClasses      map[string]int   `json:"error_classes,omitempty"`
	Slowest           []DocumentTiming `json:"slowest,omitempty"`
	FirstEvent        time.Time        `json:"first_event"`
	LastEvent         time.Time        `json:"last_event"`
	SkippedLines      int              `json:"skipped_lines,omitempty"`
}

// Progress is an advisory projection against a target document count.
type Progress struct {
	Target             int           `json:"target"`
	Completed          int           `json:"completed"`
	Remaining          int           `json:"remaining"`
	Percent            float64       `json:"percent"`
	ThroughputPerHour  float64       `json:"throughput_per_hour"`
	Basis              string        `json:"basis"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
	ETA                time.Time     `json:"eta"`
}
