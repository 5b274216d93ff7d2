package report

import (
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/store"
)

// SheetRecords is the only sheet of the records workbook.
const SheetRecords = "Records"

// RecordsPath returns `<dir>/extracted_data_<flow>.xlsx`.
func RecordsPath(dir string, flow model.Flow) string {
	return filepath.Join(dir, fmt.Sprintf("extracted_data_%s.xlsx", flow))
}

// WriteRecordsXLSX atomically writes records as a single-sheet workbook.
func WriteRecordsXLSX(path, idColumn string, records []*model.ExtractedRecord, fields *model.FieldSet) error {
	data, err := RecordsWorkbook(idColumn, records, fields)
	if err != nil {
		return err
	}
	return eris.Wrap(store.WriteFileAtomic(path, data), "report: write records xlsx")
}

// RecordsWorkbook renders one row per record, in agreement id order, with
// idColumn followed by one column per field. Not-found values stay blank.
func RecordsWorkbook(idColumn string, records []*model.ExtractedRecord, fields *model.FieldSet) ([]byte, error) {
	byID := make(map[string]*model.ExtractedRecord, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if _, dup := byID[rec.DocumentID]; !dup {
			ids = append(ids, rec.DocumentID)
		}
		byID[rec.DocumentID] = rec
	}
	model.SortIDs(ids)

	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if err := f.SetSheetName("Sheet1", SheetRecords); err != nil {
		return nil, eris.Wrap(err, "report: rename sheet")
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, eris.Wrap(err, "report: header style")
	}

	w := &writer{f: f, sheet: SheetRecords, bold: bold}
	names := fields.Names()
	w.header(append([]string{idColumn}, names...)...)
	for i, id := range ids {
		rec := byID[id]
		row := i + 2
		w.set(1, row, id)
		for j, name := range names {
			if v := rec.Fields[name]; v.Found {
				w.set(j+2, row, v.Text)
			}
		}
	}
	_ = f.SetColWidth(SheetRecords, "A", "A", 16)
	if err := f.SetPanes(SheetRecords, &excelize.Panes{
		Freeze:      true,
		XSplit:      1,
		YSplit:      1,
		TopLeftCell: "B2",
		ActivePane:  "bottomRight",
	}); err != nil {
		return nil, eris.Wrap(err, "report: freeze header")
	}

	if w.err != nil {
		return nil, eris.Wrap(w.err, "report: fill records")
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, eris.Wrap(err, "report: xlsx write")
	}
	return buf.Bytes(), nil
}
