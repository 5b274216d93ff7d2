package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// FieldType is the comparison type of a target field.
type FieldType string

const (
	FieldTypeText   FieldType = "text"
	FieldTypeNumber FieldType = "number"
	FieldTypeDate   FieldType = "date"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeDate:
		return true
	}
	return false
}

// FieldSpec describes one target field of the extraction.
type FieldSpec struct {
	Name        string    `json:"name" yaml:"name" validate:"required"`
	Description string    `json:"description" yaml:"description"`
	Example     string    `json:"example,omitempty" yaml:"example,omitempty"`
	Type        FieldType `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=text number date"`
	Category    string    `json:"category,omitempty" yaml:"category,omitempty"`
}

// FieldGroup is a set of fields that share a context category.
type FieldGroup struct {
	Category string
	Fields   []FieldSpec
}

// FieldSet is an ordered, immutable collection of field specs with unique names.
type FieldSet struct {
	fields []FieldSpec
	byName map[string]int
}

// NewFieldSet validates and indexes specs. Names are trimmed; empty and
// duplicate names are rejected, as is an empty set.
func NewFieldSet(specs []FieldSpec) (*FieldSet, error) {
	if len(specs) == 0 {
		return nil, eris.New("model: field set is empty")
	}
	fs := &FieldSet{
		fields: make([]FieldSpec, 0, len(specs)),
		byName: make(map[string]int, len(specs)),
	}
	for i, s := range specs {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, eris.Errorf("model: field %d has an empty name", i+1)
		}
		if _, dup := fs.byName[s.Name]; dup {
			return nil, eris.Errorf("model: duplicate field name %q", s.Name)
		}
		if s.Type == "" {
			s.Type = FieldTypeText
		}
		if !s.Type.Valid() {
			return nil, eris.Errorf("model: field %q has unknown type %q", s.Name, s.Type)
		}
		fs.byName[s.Name] = len(fs.fields)
		fs.fields = append(fs.fields, s)
	}
	return fs, nil
}

// Len returns the number of fields.
func (fs *FieldSet) Len() int { return len(fs.fields) }

// Fields returns a copy of the specs in declaration order.
func (fs *FieldSet) Fields() []FieldSpec {
	out := make([]FieldSpec, len(fs.fields))
	copy(out, fs.fields)
	return out
}

// Names returns the field names in declaration order.
func (fs *FieldSet) Names() []string {
	out := make([]string, len(fs.fields))
	for i, f := range fs.fields {
		out[i] = f.Name
	}
	return out
}

// ByName looks up a field spec.
func (fs *FieldSet) ByName(name string) (FieldSpec, bool) {
	i, ok := fs.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return fs.fields[i], true
}

// Has reports whether name is a field of the set.
func (fs *FieldSet) Has(name string) bool {
	_, ok := fs.byName[name]
	return ok
}

// Index returns the declaration position of name, or -1.
func (fs *FieldSet) Index(name string) int {
	if i, ok := fs.byName[name]; ok {
		return i
	}
	return -1
}

// Groups partitions the fields by category in order of first appearance.
// Fields without a category are collected under fallback.
func (fs *FieldSet) Groups(fallback string) []FieldGroup {
	var groups []FieldGroup
	pos := make(map[string]int)
	for _, f := range fs.fields {
		cat := f.Category
		if cat == "" {
			cat = fallback
		}
		i, ok := pos[cat]
		if !ok {
			i = len(groups)
			pos[cat] = i
			groups = append(groups, FieldGroup{Category: cat})
		}
		groups[i].Fields = append(groups[i].Fields, f)
	}
	return groups
}
