// Package report writes comparison results as JSON and as an Excel workbook.
package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/store"
)

// Sheet names in the workbook.
const (
	SheetSummary   = "Summary"
	SheetFields    = "Fields"
	SheetDocuments = "Documents"
	SheetDetail    = "Detail"
)

// Path returns `<dir>/comparison_<flow><ext>`.
func Path(dir string, flow model.Flow, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("comparison_%s%s", flow, ext))
}

// WriteJSON atomically writes the report as indented JSON.
func WriteJSON(path string, r *model.QualityReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return eris.Wrap(err, "report: marshal")
	}
	return eris.Wrap(store.WriteFileAtomic(path, append(data, '\n')), "report: write json")
}

// WriteXLSX atomically writes the report as a workbook.
func WriteXLSX(path string, r *model.QualityReport) error {
	data, err := Workbook(r)
	if err != nil {
		return err
	}
	return eris.Wrap(store.WriteFileAtomic(path, data), "report: write xlsx")
}

// Workbook renders the report into XLSX bytes with summary, per-field,
// per-document and per-field-detail sheets.
func Workbook(r *model.QualityReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, eris.Wrap(err, "report: rename sheet")
	}
	for _, name := range []string{SheetFields, SheetDocuments, SheetDetail} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, eris.Wrapf(err, "report: add sheet %s", name)
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, eris.Wrap(err, "report: header style")
	}
	pct, err := f.NewStyle(&excelize.Style{NumFmt: 10})
	if err != nil {
		return nil, eris.Wrap(err, "report: percent style")
	}

	w := &writer{f: f, bold: bold, pct: pct}

	w.sheet = SheetSummary
	w.rows([][]any{
		{"Flow", string(r.Flow)},
		{"Generated at", r.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"Documents scored", len(r.Documents)},
		{"Documents without ground truth", len(r.Unscored)},
		{"Micro score", pctValue(r.MicroScore)},
		{"Macro score", pctValue(r.MacroScore)},
		{"Precision", pctValue(r.Precision)},
		{"Recall", pctValue(r.Recall)},
		{"Match", r.Totals.Match},
		{"Mismatch", r.Totals.Mismatch},
		{"Missing", r.Totals.Missing},
		{"Spurious", r.Totals.Spurious},
		{"Empty", r.Totals.Empty},
	})
	w.boldColumn(1, 13)
	for row := 5; row <= 8; row++ {
		w.style(2, row, pct)
	}
	_ = f.SetColWidth(SheetSummary, "A", "A", 32)

	w.sheet = SheetFields
	w.header("Field", "Score", "Match", "Mismatch", "Missing", "Spurious", "Empty")
	for i, fs := range r.Fields {
		c := fs.Counts
		w.row(i+2, fs.Field, pctValue(fs.Score), c.Match, c.Mismatch, c.Missing, c.Spurious, c.Empty)
		w.style(2, i+2, pct)
	}
	_ = f.SetColWidth(SheetFields, "A", "A", 36)

	w.sheet = SheetDocuments
	w.header("Document", "Score", "Degraded", "Match", "Mismatch", "Missing", "Spurious", "Empty")
	for i, d := range r.Documents {
		c := d.Counts
		w.row(i+2, d.DocumentID, pctValue(d.Score), d.Degraded, c.Match, c.Mismatch, c.Missing, c.Spurious, c.Empty)
		w.style(2, i+2, pct)
	}
	row := len(r.Documents) + 2
	for _, id := range r.Unscored {
		w.row(row, id, "no ground truth")
		row++
	}

	w.sheet = SheetDetail
	w.header("Document", "Field", "Verdict", "Expected", "Extracted")
	row = 2
	for _, d := range r.Documents {
		for _, fc := range d.Fields {
			extracted := ""
			if fc.Extracted != nil {
				extracted = *fc.Extracted
			}
			w.row(row, d.DocumentID, fc.Field, string(fc.Verdict), fc.Expected, extracted)
			row++
		}
	}
	_ = f.SetColWidth(SheetDetail, "B", "B", 32)
	_ = f.SetColWidth(SheetDetail, "D", "E", 48)

	if w.err != nil {
		return nil, eris.Wrap(w.err, "report: fill workbook")
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, eris.Wrap(err, "report: xlsx write")
	}
	return buf.Bytes(), nil
}

// pctValue rounds a fraction for display with a percent format.
func pctValue(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}

// writer keeps the first cell error so callers can check once.
type writer struct {
	f     *excelize.File
	sheet string
	bold  int
	pct   int
	err   error
}

func (w *writer) set(col, row int, v any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellValue(w.sheet, cell, v)
}

func (w *writer) row(row int, values ...any) {
	for i, v := range values {
		w.set(i+1, row, v)
	}
}

func (w *writer) rows(rows [][]any) {
	for i, values := range rows {
		w.row(i+1, values...)
	}
}

func (w *writer) header(names ...string) {
	for i, n := range names {
		w.set(i+1, 1, n)
	}
	if w.err != nil {
		return
	}
	end, _ := excelize.CoordinatesToCellName(len(names), 1)
	w.err = w.f.SetCellStyle(w.sheet, "A1", end, w.bold)
}

func (w *writer) boldColumn(col, rows int) {
	if w.err != nil {
		return
	}
	top, _ := excelize.CoordinatesToCellName(col, 1)
	bottom, _ := excelize.CoordinatesToCellName(col, rows)
	w.err = w.f.SetCellStyle(w.sheet, top, bottom, w.bold)
}

func (w *writer) style(col, row, style int) {
	if w.err != nil {
		return
	}
	cell, _ := excelize.CoordinatesToCellName(col, row)
	w.err = w.f.SetCellStyle(w.sheet, cell, cell, style)
}
