// Package fieldspec loads the target field schema from YAML, from a markdown
// field table or from the XLSX field matrix, and renders it back for prompts.
package fieldspec

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/sheet"
)

var validate = validator.New()

// Load reads a field schema, picking the format from the file extension.
// Types missing from the source are inferred.
func Load(path string) (*model.FieldSet, error) {
	var (
		specs []model.FieldSpec
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		specs, err = loadYAMLFile(path)
	case ".md", ".markdown":
		specs, err = loadMarkdownFile(path)
	case ".xlsx":
		specs, err = LoadXLSX(path)
	default:
		return nil, eris.Errorf("fieldspec: unsupported field file %q (want .yaml, .md or .xlsx)", path)
	}
	if err != nil {
		return nil, err
	}
	return Build(specs)
}

// Build validates specs, fills in inferred types and returns the field set.
func Build(specs []model.FieldSpec) (*model.FieldSet, error) {
	for i := range specs {
		specs[i].Name = strings.TrimSpace(specs[i].Name)
		if err := validate.Struct(specs[i]); err != nil {
			return nil, eris.Wrapf(err, "fieldspec: field %d (%q)", i+1, specs[i].Name)
		}
		if specs[i].Type == "" {
			specs[i].Type = InferType(specs[i])
		}
	}
	fs, err := model.NewFieldSet(specs)
	if err != nil {
		return nil, eris.Wrap(err, "fieldspec: build field set")
	}
	return fs, nil
}

type yamlFile struct {
	Fields []model.FieldSpec `yaml:"fields"`
}

func loadYAMLFile(path string) ([]model.FieldSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fieldspec: read %s", path)
	}
	return ParseYAML(data)
}

// ParseYAML accepts either a top-level list of fields or a document with a
// "fields" key.
func ParseYAML(data []byte) ([]model.FieldSpec, error) {
	var list []model.FieldSpec
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}
	var doc yamlFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "fieldspec: parse yaml")
	}
	return doc.Fields, nil
}

func loadMarkdownFile(path string) ([]model.FieldSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fieldspec: read %s", path)
	}
	return ParseMarkdown(bytes.NewReader(data))
}

// ParseMarkdown reads the first pipe table in r. Two layouts are accepted:
// a wide table whose header row holds the field names (row 2 descriptions,
// row 3 examples), or a long table with name/description/example columns.
func ParseMarkdown(r io.Reader) ([]model.FieldSpec, error) {
	var rows [][]string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "|") {
			if len(rows) > 0 {
				break
			}
			continue
		}
		cells := splitRow(line)
		if separatorRow(cells) {
			continue
		}
		rows = append(rows, cells)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "fieldspec: scan markdown")
	}
	if len(rows) == 0 {
		return nil, eris.New("fieldspec: no markdown table found")
	}
	return fromRows(rows), nil
}

// LoadXLSX reads the field matrix workbook: row 1 names, row 2 descriptions,
// optional row 3 examples. A long layout with a name/description header is
// also accepted.
func LoadXLSX(path string) ([]model.FieldSpec, error) {
	rows, err := sheet.Read(path, sheet.Options{})
	if err != nil {
		return nil, eris.Wrap(err, "fieldspec: read field matrix")
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("fieldspec: %s is empty", path)
	}
	return fromRows(rows), nil
}

func fromRows(rows [][]string) []model.FieldSpec {
	if long(rows[0]) {
		return fromLongRows(rows)
	}
	header := rows[0]
	specs := make([]model.FieldSpec, 0, len(header))
	for col, name := range header {
		if strings.TrimSpace(name) == "" {
			continue
		}
		spec := model.FieldSpec{Name: name}
		if len(rows) > 1 {
			spec.Description = sheet.Cell(rows[1], col)
		}
		if len(rows) > 2 {
			spec.Example = sheet.Cell(rows[2], col)
		}
		specs = append(specs, spec)
	}
	return specs
}

func fromLongRows(rows [][]string) []model.FieldSpec {
	t := &sheet.Table{Header: rows[0], Rows: rows[1:]}
	nameCol := t.Column("name")
	descCol := t.Column("description")
	exCol := t.Column("example")
	typeCol := t.Column("type")
	catCol := t.Column("category")

	specs := make([]model.FieldSpec, 0, len(t.Rows))
	for _, row := range t.Rows {
		name := sheet.Cell(row, nameCol)
		if name == "" {
			continue
		}
		specs = append(specs, model.FieldSpec{
			Name:        name,
			Description: sheet.Cell(row, descCol),
			Example:     sheet.Cell(row, exCol),
			Type:        model.FieldType(strings.ToLower(sheet.Cell(row, typeCol))),
			Category:    sheet.Cell(row, catCol),
		})
	}
	return specs
}

func long(header []string) bool {
	t := &sheet.Table{Header: header}
	return t.Column("name") >= 0 && t.Column("description") >= 0
}

func splitRow(line string) []string {
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func separatorRow(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}
