package sheet

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeWorkbook(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		s, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, data := range rows {
			row := s.AddRow()
			for _, v := range data {
				row.AddCell().SetString(v)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestRead_TrimsAndDropsBlankRows(t *testing.T) {
	path := writeWorkbook(t, map[string][][]string{
		"Sheet1": {
			{" cao_id ", "wage"},
			{"", ""},
			{"12", " 12,50 "},
		},
	})

	rows, err := Read(path, Options{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"cao_id", "wage"}, rows[0])
	assert.Equal(t, []string{"12", "12,50"}, rows[1])
}

func TestReadTable_Column(t *testing.T) {
	path := writeWorkbook(t, map[string][][]string{
		"Fields": {{"CAO_ID", "Vakantiedagen"}, {"7", "25"}},
	})

	tbl, err := ReadTable(path, Options{SheetName: "Fields"})
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Column("cao_id"))
	assert.Equal(t, 1, tbl.Column(" vakantiedagen "))
	assert.Equal(t, -1, tbl.Column("missing"))
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "25", Cell(tbl.Rows[0], 1))
	assert.Equal(t, "", Cell(tbl.Rows[0], 5))
}

func TestRead_SheetNotFound(t *testing.T) {
	path := writeWorkbook(t, map[string][][]string{"A": {{"x"}}})

	_, err := Read(path, Options{SheetName: "B"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = Read(path, Options{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadTable_Empty(t *testing.T) {
	path := writeWorkbook(t, map[string][][]string{"A": {}})

	_, err := ReadTable(path, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rows")
}

func TestRead_MissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.xlsx"), Options{})
	assert.Error(t, err)
}
