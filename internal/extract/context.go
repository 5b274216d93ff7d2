package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/fieldspec"
	"github.com/sells-group/cao-extract/internal/llm"
	"github.com/sells-group/cao-extract/internal/model"
	"github.com/sells-group/cao-extract/internal/resilience"
)

// DefaultCategories are the context sections requested when none are configured.
var DefaultCategories = []string{
	"general_information",
	"wage_information",
	"pension_information",
	"leave_information",
	"termination_information",
	"overtime_information",
	"training_information",
	"homeoffice_information",
}

// DefaultMaxInputChars bounds the document text sent in one request.
const DefaultMaxInputChars = 120000

// ContextExtractor is Stage 1: it asks the model to copy the parts of a
// document that are relevant to the field schema, grouped by category.
type ContextExtractor struct {
	llm        llm.Completer
	prompts    *Prompts
	categories []string
	maxChars   int
	opts       Options
}

// NewContextExtractor creates a Stage 1 extractor.
func NewContextExtractor(c llm.Completer, p *Prompts, categories []string, maxChars int, opts Options) *ContextExtractor {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	norm := make([]string, len(categories))
	for i, c := range categories {
		norm[i] = normalizeKey(c)
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxInputChars
	}
	return &ContextExtractor{llm: c, prompts: p, categories: norm, maxChars: maxChars, opts: opts}
}

// Categories returns the configured category keys.
func (e *ContextExtractor) Categories() []string {
	out := make([]string, len(e.categories))
	copy(out, e.categories)
	return out
}

// Extract runs Stage 1 for doc. Call failures come back from the retry
// controller; a reply that cannot be parsed yields an empty context with a
// warning.
func (e *ContextExtractor) Extract(ctx context.Context, doc *model.Document, fields *model.FieldSet) (*model.IntermediateContext, error) {
	log := zap.L().With(zap.String("document", doc.ID), zap.String("stage", string(model.StageContext)))

	if doc.Empty() {
		return nil, resilience.NewFatalError(eris.Errorf("extract: document %s has no text", doc.ID), resilience.ClassInvalidInput)
	}

	ic := &model.IntermediateContext{DocumentID: doc.ID}

	text := doc.Text()
	if n := utf8.RuneCountInString(text); n > e.maxChars {
		text = truncateRunes(text, e.maxChars)
		ic.Warn(fmt.Sprintf("input truncated from %d to %d characters", n, e.maxChars))
		log.Warn("document text truncated", zap.Int("chars", n), zap.Int("max_chars", e.maxChars))
	}

	system, err := render(e.prompts.contextSystem, contextSystemData{
		Categories: e.categories,
		FieldTable: fieldspec.RenderTable(fields.Fields()),
	})
	if err != nil {
		return nil, resilience.NewFatalError(err, resilience.ClassInvalidInput)
	}
	user, err := render(e.prompts.contextUser, contextUserData{DocumentID: doc.ID, Text: text})
	if err != nil {
		return nil, resilience.NewFatalError(err, resilience.ClassInvalidInput)
	}

	resp, err := complete(ctx, e.llm, e.opts, doc.ID, model.StageContext, llm.Request{System: system, Prompt: user})
	if err != nil {
		return nil, err
	}

	sections, err := parseContext(resp.Text, e.categories)
	if err != nil {
		msg := "context reply could not be parsed: " + err.Error()
		if resp.Truncated() {
			msg = "context reply hit the token limit and could not be parsed: " + err.Error()
		}
		ic.Warn(msg)
		log.Warn("context extraction returned malformed output", zap.Error(err), zap.Bool("truncated", resp.Truncated()))
		return ic, nil
	}
	ic.Sections = sections
	if ic.Empty() {
		log.Info("context extraction found no relevant text")
	}
	return ic, nil
}

// parseContext decodes a Stage 1 reply. Configured categories come first in
// configured order, then any other categories in reply order. Repeated keys
// append to the same section.
func parseContext(text string, categories []string) ([]model.Section, error) {
	members, err := decodeMembers([]byte(cleanJSON(text)))
	if err != nil {
		return nil, err
	}

	blocks := make(map[string][]string)
	var extra []string
	known := make(map[string]bool, len(categories))
	for _, c := range categories {
		known[c] = true
	}

	for _, m := range members {
		key := normalizeKey(m.Key)
		if key == "" {
			continue
		}
		if _, seen := blocks[key]; !seen && !known[key] {
			extra = append(extra, key)
		}
		bs, err := parseBlocks(m.Value)
		if err != nil {
			return nil, eris.Wrapf(err, "category %q", m.Key)
		}
		blocks[key] = append(blocks[key], bs...)
	}

	out := make([]model.Section, 0, len(categories)+len(extra))
	for _, c := range append(append([]string{}, categories...), extra...) {
		out = append(out, model.Section{Category: c, Blocks: blocks[c]})
	}
	return out, nil
}

// parseBlocks accepts a list of snippets where each snippet is a string or
// a list of lines, or a single string.
func parseBlocks(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if s := strings.TrimSpace(single); s != "" {
			return []string{s}, nil
		}
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		if string(raw) == "null" {
			return nil, nil
		}
		return nil, eris.New("want a list of snippets")
	}

	var out []string
	for _, it := range items {
		s, err := snippet(it)
		if err != nil {
			return nil, err
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func snippet(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var lines []json.RawMessage
	if err := json.Unmarshal(raw, &lines); err == nil {
		parts := make([]string, 0, len(lines))
		for _, l := range lines {
			part, err := snippet(l)
			if err != nil {
				return "", err
			}
			if part != "" {
				parts = append(parts, part)
			}
		}
		return strings.Join(parts, " | "), nil
	}
	if v, ok := scalar(raw); ok {
		return v, nil
	}
	if string(raw) == "null" {
		return "", nil
	}
	return "", eris.New("snippet must be a string or a list of strings")
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
