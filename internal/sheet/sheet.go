// Package sheet reads worksheets from .xlsx files into plain string tables.
package sheet

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Options selects a worksheet.
type Options struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// Table is a worksheet with its first row split off as the header.
type Table struct {
	Header []string
	Rows   [][]string
}

// Read returns every non-blank row of the selected worksheet. Cell values
// are trimmed; rows that are entirely blank are dropped.
func Read(path string, opts Options) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sheet: open %s", path)
	}

	s, err := pick(f, opts)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for _, row := range s.Rows {
		if row == nil {
			continue
		}
		cells := cellStrings(row)
		if blank(cells) {
			continue
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// ReadTable reads the selected worksheet and treats its first row as the header.
func ReadTable(path string, opts Options) (*Table, error) {
	rows, err := Read(path, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("sheet: %s has no rows", path)
	}
	return &Table{Header: rows[0], Rows: rows[1:]}, nil
}

// Column returns the index of the header cell equal to name, ignoring case
// and surrounding whitespace, or -1.
func (t *Table) Column(name string) int {
	want := strings.ToLower(strings.TrimSpace(name))
	for i, h := range t.Header {
		if strings.ToLower(strings.TrimSpace(h)) == want {
			return i
		}
	}
	return -1
}

// Cell returns row[col] or "" when the row is short.
func Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

func pick(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		s, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("sheet: worksheet %q not found", opts.SheetName)
		}
		return s, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("sheet: worksheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func cellStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = strings.TrimSpace(cell.String())
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
