package model

import "strings"

// Section holds the text blocks Stage 1 assigned to one category.
type Section struct {
	Category string   `json:"category"`
	Blocks   []string `json:"blocks"`
}

// IntermediateContext is the loosely structured output of context extraction.
// An empty context is valid.
type IntermediateContext struct {
	DocumentID string    `json:"document_id"`
	Sections   []Section `json:"sections"`
	Warnings   []string  `json:"warnings,omitempty"`
}

// Section returns the blocks for category, or nil.
func (c *IntermediateContext) Section(category string) []string {
	for _, s := range c.Sections {
		if s.Category == category {
			return s.Blocks
		}
	}
	return nil
}

// Empty reports whether no section holds any block.
func (c *IntermediateContext) Empty() bool {
	for _, s := range c.Sections {
		if len(s.Blocks) > 0 {
			return false
		}
	}
	return true
}

// Warn records a non-fatal extraction problem.
func (c *IntermediateContext) Warn(msg string) {
	c.Warnings = append(c.Warnings, msg)
}

// Render formats the selected categories (all when none given) as prompt text.
// Categories without blocks are omitted.
func (c *IntermediateContext) Render(categories ...string) string {
	want := make(map[string]bool, len(categories))
	for _, cat := range categories {
		want[cat] = true
	}
	var b strings.Builder
	for _, s := range c.Sections {
		if len(s.Blocks) == 0 || (len(want) > 0 && !want[s.Category]) {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## ")
		b.WriteString(s.Category)
		b.WriteString("\n")
		for _, blk := range s.Blocks {
			b.WriteString("- ")
			b.WriteString(strings.ReplaceAll(blk, "\n", "\n  "))
			b.WriteString("\n")
		}
	}
	return b.String()
}
