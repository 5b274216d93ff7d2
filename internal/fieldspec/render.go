package fieldspec

import (
	"strings"

	"github.com/sells-group/cao-extract/internal/model"
)

// RenderTable renders fields as the wide markdown table used in prompts:
// header of names, then descriptions, then examples when any exist.
func RenderTable(fields []model.FieldSpec) string {
	if len(fields) == 0 {
		return ""
	}
	names := make([]string, len(fields))
	descs := make([]string, len(fields))
	examples := make([]string, len(fields))
	seps := make([]string, len(fields))
	hasExample := false
	for i, f := range fields {
		names[i] = cell(f.Name)
		descs[i] = cell(f.Description)
		examples[i] = cell(f.Example)
		seps[i] = "---"
		if f.Example != "" {
			hasExample = true
		}
	}

	var b strings.Builder
	writeRow(&b, names)
	writeRow(&b, seps)
	writeRow(&b, descs)
	if hasExample {
		writeRow(&b, examples)
	}
	return b.String()
}

// RenderList renders fields one per line as "- name (type): description".
func RenderList(fields []model.FieldSpec) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString("- ")
		b.WriteString(f.Name)
		if f.Type != "" && f.Type != model.FieldTypeText {
			b.WriteString(" (" + string(f.Type) + ")")
		}
		if f.Description != "" {
			b.WriteString(": " + f.Description)
		}
		if f.Example != "" {
			b.WriteString(" e.g. " + f.Example)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cells, " | "))
	b.WriteString(" |\n")
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "/")
}
