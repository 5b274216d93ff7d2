// Package scorer compares extracted records with ground truth field by
// field and aggregates the verdicts into a quality report.
package scorer

import (
	"math"
	"sort"

	"github.com/sells-group/cao-extract/internal/fieldspec"
	"github.com/sells-group/cao-extract/internal/groundtruth"
	"github.com/sells-group/cao-extract/internal/model"
)

// Comparator scores records. It is stateless and safe for concurrent use.
type Comparator struct {
	fields *model.FieldSet
	order  DateOrder
}

// New returns a Comparator. When fields is nil every ground-truth field is
// scored and types are inferred from field names.
func New(fields *model.FieldSet, order DateOrder) *Comparator {
	if order != MonthDayYear {
		order = DayMonthYear
	}
	return &Comparator{fields: fields, order: order}
}

// Judge returns the verdict for one field.
func (c *Comparator) Judge(typ model.FieldType, expected string, extracted model.Value) model.Verdict {
	gtEmpty := Blank(expected)
	exEmpty := !extracted.Found || Blank(extracted.Text)
	switch {
	case gtEmpty && exEmpty:
		return model.VerdictEmpty
	case gtEmpty:
		return model.VerdictSpurious
	case exEmpty:
		return model.VerdictMissing
	case c.equal(typ, expected, extracted.Text):
		return model.VerdictMatch
	}
	return model.VerdictMismatch
}

func (c *Comparator) equal(typ model.FieldType, a, b string) bool {
	if NormalizeText(a) == NormalizeText(b) {
		return true
	}
	switch typ {
	case model.FieldTypeNumber:
		x, okA := ParseNumber(a)
		y, okB := ParseNumber(b)
		return okA && okB && math.Abs(x-y) <= 1e-9*math.Max(1, math.Abs(x))
	case model.FieldTypeDate:
		x, okA := ParseDate(a, c.order)
		y, okB := ParseDate(b, c.order)
		return okA && okB && x.Equal(y)
	}
	return false
}

// Record compares one record with its expected values. Fields missing from
// expected are not scored.
func (c *Comparator) Record(rec *model.ExtractedRecord, expected map[string]string) model.ComparisonRecord {
	out := model.ComparisonRecord{
		DocumentID: rec.DocumentID,
		Flow:       rec.Flow,
		Degraded:   rec.Degraded,
	}
	for _, name := range c.scoredFields(expected) {
		want := expected[name]
		got := rec.Fields[name]
		v := c.Judge(c.fieldType(name), want, got)

		fc := model.FieldComparison{Field: name, Expected: want, Verdict: v}
		if got.Found {
			text := got.Text
			fc.Extracted = &text
		}
		out.Fields = append(out.Fields, fc)
		out.Counts.Add(v)
	}
	out.Score = out.Counts.Score()
	return out
}

// Compare scores every record whose document is in gt. Records without
// ground truth are listed as unscored. Output ordering is deterministic.
func (c *Comparator) Compare(flow model.Flow, records []*model.ExtractedRecord, gt *groundtruth.Set) *model.QualityReport {
	report := &model.QualityReport{Flow: flow}

	byID := make(map[string]*model.ExtractedRecord, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if _, dup := byID[rec.DocumentID]; dup {
			continue
		}
		byID[rec.DocumentID] = rec
		ids = append(ids, rec.DocumentID)
	}
	model.SortIDs(ids)

	fieldCounts := make(map[string]*model.VerdictCounts)
	var macroSum float64
	var macroN int
	for _, id := range ids {
		expected, ok := gt.Lookup(id)
		if !ok {
			report.Unscored = append(report.Unscored, id)
			continue
		}
		cr := c.Record(byID[id], expected)
		report.Documents = append(report.Documents, cr)
		report.Totals.Merge(cr.Counts)
		if cr.Counts.Scored() > 0 {
			macroSum += cr.Score
			macroN++
		}
		for _, fc := range cr.Fields {
			fcs, ok := fieldCounts[fc.Field]
			if !ok {
				fcs = &model.VerdictCounts{}
				fieldCounts[fc.Field] = fcs
			}
			fcs.Add(fc.Verdict)
		}
	}

	report.MicroScore = report.Totals.Score()
	if macroN > 0 {
		report.MacroScore = macroSum / float64(macroN)
	}
	report.Precision = report.Totals.Precision()
	report.Recall = report.Totals.Recall()

	names := make([]string, 0, len(fieldCounts))
	for name := range fieldCounts {
		names = append(names, name)
	}
	c.sortFields(names)
	for _, name := range names {
		counts := *fieldCounts[name]
		report.Fields = append(report.Fields, model.FieldStats{Field: name, Counts: counts, Score: counts.Score()})
	}
	return report
}

func (c *Comparator) scoredFields(expected map[string]string) []string {
	names := make([]string, 0, len(expected))
	for name := range expected {
		if c.fields != nil && !c.fields.Has(name) {
			continue
		}
		names = append(names, name)
	}
	c.sortFields(names)
	return names
}

// sortFields orders by field set position, then name.
func (c *Comparator) sortFields(names []string) {
	sort.Slice(names, func(i, j int) bool {
		if c.fields != nil {
			pi, pj := c.fields.Index(names[i]), c.fields.Index(names[j])
			if pi != pj {
				if pi < 0 {
					return false
				}
				if pj < 0 {
					return true
				}
				return pi < pj
			}
		}
		return names[i] < names[j]
	})
}

func (c *Comparator) fieldType(name string) model.FieldType {
	if c.fields != nil {
		if spec, ok := c.fields.ByName(name); ok && spec.Type != "" {
			return spec.Type
		}
	}
	return fieldspec.InferType(model.FieldSpec{Name: name})
}
