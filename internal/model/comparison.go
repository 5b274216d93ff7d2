package model

import "time"

// Verdict is the per-field comparison result.
type Verdict string

const (
	VerdictMatch    Verdict = "match"
	VerdictMismatch Verdict = "mismatch"
	VerdictMissing  Verdict = "missing"
	VerdictSpurious Verdict = "spurious"
	VerdictEmpty    Verdict = "empty"
)

// VerdictCounts tallies verdicts.
type VerdictCounts struct {
	Match    int `json:"match"`
	Mismatch int `json:"mismatch"`
	Missing  int `json:"missing"`
	Spurious int `json:"spurious"`
	Empty    int `json:"empty"`
}

// Add increments the counter for v.
func (c *VerdictCounts) Add(v Verdict) {
	switch v {
	case VerdictMatch:
		c.Match++
	case VerdictMismatch:
		c.Mismatch++
	case VerdictMissing:
		c.Missing++
	case VerdictSpurious:
		c.Spurious++
	case VerdictEmpty:
		c.Empty++
	}
}

// Merge adds other into c.
func (c *VerdictCounts) Merge(other VerdictCounts) {
	c.Match += other.Match
	c.Mismatch += other.Mismatch
	c.Missing += other.Missing
	c.Spurious += other.Spurious
	c.Empty += other.Empty
}

// Scored is the number of verdicts that count toward a score. Empty does not.
func (c VerdictCounts) Scored() int {
	return c.Match + c.Mismatch + c.Missing + c.Spurious
}

// Score is the match fraction of scored verdicts, 0 when nothing is scored.
func (c VerdictCounts) Score() float64 {
	n := c.Scored()
	if n == 0 {
		return 0
	}
	return float64(c.Match) / float64(n)
}

// Precision is matches over all non-empty extractions.
func (c VerdictCounts) Precision() float64 {
	n := c.Match + c.Mismatch + c.Spurious
	if n == 0 {
		return 0
	}
	return float64(c.Match) / float64(n)
}

// Recall is matches over all non-empty ground truth values.
func (c VerdictCounts) Recall() float64 {
	n := c.Match + c.Mismatch + c.Missing
	if n == 0 {
		return 0
	}
	return float64(c.Match) / float64(n)
}

// FieldComparison is the verdict for one field of one document.
type FieldComparison struct {
	Field     string  `json:"field"`
	Expected  string  `json:"expected"`
	Extracted *string `json:"extracted"`
	Verdict   Verdict `json:"verdict"`
}

// ComparisonRecord holds the field verdicts for one document.
type ComparisonRecord struct {
	DocumentID string            `json:"document_id"`
	Flow       Flow              `json:"flow"`
	Degraded   bool              `json:"degraded,omitempty"`
	Fields     []FieldComparison `json:"fields"`
	Counts     VerdictCounts     `json:"counts"`
	Score      float64           `json:"score"`
}

// FieldStats aggregates verdicts for one field across documents.
type FieldStats struct {
	Field  string        `json:"field"`
	Counts VerdictCounts `json:"counts"`
	Score  float64       `json:"score"`
}

// QualityReport is the corpus-level comparison result.
type QualityReport struct {
	Flow        Flow               `json:"flow"`
	GeneratedAt time.Time          `json:"generated_at"`
	Documents   []ComparisonRecord `json:"documents"`
	Unscored    []string           `json:"unscored,omitempty"`
	Totals      VerdictCounts      `json:"totals"`
	MicroScore  float64            `json:"micro_score"`
	MacroScore  float64            `json:"macro_score"`
	Precision   float64            `json:"precision"`
	Recall      float64            `json:"recall"`
	Fields      []FieldStats       `json:"fields"`
}
