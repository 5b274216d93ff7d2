// Package groundtruth loads hand-built reference values per agreement.
package groundtruth

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cao-extract/internal/sheet"
)

// DefaultIDColumn names the agreement id column when none is configured.
const DefaultIDColumn = "cao_number"

// idAliases are tried when the configured id column is absent.
var idAliases = []string{"document_id", "id", "cao_id", "cao"}

// Set maps agreement id to field name to expected value. A field present
// with an empty value means the agreement has no value for it; an absent
// field is not part of the ground truth.
type Set struct {
	docs  map[string]map[string]string
	order []string
}

func newSet() *Set {
	return &Set{docs: make(map[string]map[string]string)}
}

// Len returns the number of agreements.
func (s *Set) Len() int { return len(s.order) }

// IDs returns agreement ids in load order.
func (s *Set) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Lookup returns the expected values for an agreement.
func (s *Set) Lookup(id string) (map[string]string, bool) {
	fields, ok := s.docs[NormalizeID(id)]
	return fields, ok
}

// add merges a row: the first non-empty value per field wins, and an empty
// value only registers the field.
func (s *Set) add(id string, fields map[string]string) {
	id = NormalizeID(id)
	if id == "" {
		return
	}
	cur, ok := s.docs[id]
	if !ok {
		cur = make(map[string]string, len(fields))
		s.docs[id] = cur
		s.order = append(s.order, id)
	}
	for k, v := range fields {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		v = strings.TrimSpace(v)
		if prev, seen := cur[k]; !seen || (prev == "" && v != "") {
			cur[k] = v
		}
	}
}

// NormalizeID trims an agreement id and drops a spreadsheet ".0" suffix
// from integral ids.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasSuffix(id, ".0") {
		if _, err := strconv.Atoi(strings.TrimSuffix(id, ".0")); err == nil {
			return strings.TrimSuffix(id, ".0")
		}
	}
	return id
}

// Load reads ground truth from .json or .xlsx.
func Load(path, idColumn string) (*Set, error) {
	if idColumn == "" {
		idColumn = DefaultIDColumn
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "groundtruth: read %s", path)
		}
		return ParseJSON(data, idColumn)
	case ".xlsx":
		return LoadXLSX(path, idColumn)
	}
	return nil, eris.Errorf("groundtruth: unsupported file type %q", filepath.Ext(path))
}

// ParseJSON accepts an object keyed by agreement id, or an array of rows
// carrying the id in idColumn.
func ParseJSON(data []byte, idColumn string) (*Set, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, eris.New("groundtruth: empty document")
	}
	s := newSet()
	if data[0] == '[' {
		var rows []map[string]json.RawMessage
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, eris.Wrap(err, "groundtruth: decode rows")
		}
		for i, raw := range rows {
			fields, err := scalars(raw)
			if err != nil {
				return nil, eris.Wrapf(err, "groundtruth: row %d", i+1)
			}
			key := idKey(fields, idColumn)
			if key == "" {
				return nil, eris.Errorf("groundtruth: row %d has no %q column", i+1, idColumn)
			}
			id := fields[key]
			delete(fields, key)
			s.add(id, fields)
		}
		return s, nil
	}

	var docs map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, eris.Wrap(err, "groundtruth: decode object")
	}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fields, err := scalars(docs[id])
		if err != nil {
			return nil, eris.Wrapf(err, "groundtruth: document %s", id)
		}
		s.add(id, fields)
	}
	return s, nil
}

// LoadXLSX reads the first worksheet: a header row, then one or more rows
// per agreement.
func LoadXLSX(path, idColumn string) (*Set, error) {
	tbl, err := sheet.ReadTable(path, sheet.Options{})
	if err != nil {
		return nil, eris.Wrap(err, "groundtruth: read workbook")
	}
	idCol := tbl.Column(idColumn)
	for _, alias := range idAliases {
		if idCol >= 0 {
			break
		}
		idCol = tbl.Column(alias)
	}
	if idCol < 0 {
		return nil, eris.Errorf("groundtruth: %s has no %q column", path, idColumn)
	}

	s := newSet()
	for _, row := range tbl.Rows {
		fields := make(map[string]string, len(tbl.Header))
		for i, name := range tbl.Header {
			if i == idCol || strings.TrimSpace(name) == "" {
				continue
			}
			fields[name] = sheet.Cell(row, i)
		}
		s.add(sheet.Cell(row, idCol), fields)
	}
	return s, nil
}

func idKey(fields map[string]string, idColumn string) string {
	for _, want := range append([]string{idColumn}, idAliases...) {
		for k := range fields {
			if strings.EqualFold(strings.TrimSpace(k), want) {
				return k
			}
		}
	}
	return ""
}

// scalars flattens JSON values to strings. null becomes empty; an array
// contributes its first non-empty scalar.
func scalars(raw map[string]json.RawMessage) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		s, err := scalar(v)
		if err != nil {
			return nil, eris.Wrapf(err, "field %q", k)
		}
		out[k] = s
	}
	return out, nil
}

func scalar(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", err
		}
		return s, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(v, &items); err != nil {
			return "", err
		}
		for _, item := range items {
			s, err := scalar(item)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(s) != "" {
				return s, nil
			}
		}
		return "", nil
	case '{':
		return "", eris.New("nested objects are not supported")
	}
	return string(v), nil
}
