package extract

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cao-extract/internal/fieldspec"
	"github.com/sells-group/cao-extract/internal/llm"
	"github.com/sells-group/cao-extract/internal/model"
)

// Mapper is Stage 2: it maps an IntermediateContext onto the field schema.
// The flow picks the strategy: old sends all fields with the whole context
// in one request; new sends one request per field category with only that
// category's sections.
type Mapper struct {
	llm     llm.Completer
	prompts *Prompts
	opts    Options

	mu         sync.Mutex
	validators map[string]*fieldspec.Validator
}

// NewMapper creates a Stage 2 mapper.
func NewMapper(c llm.Completer, p *Prompts, opts Options) *Mapper {
	return &Mapper{llm: c, prompts: p, opts: opts, validators: make(map[string]*fieldspec.Validator)}
}

// MapResult is the outcome of mapping one document.
type MapResult struct {
	Record *model.ExtractedRecord
	// Problem describes why the record is degraded; empty otherwise.
	Problem string
}

// Degraded reports whether the mapping fell back to all not-found.
func (r *MapResult) Degraded() bool { return r.Record.Degraded }

type group struct {
	category string
	fields   []model.FieldSpec
	context  string
}

// Map runs Stage 2. The returned record always holds every field of fs.
// Replies that stay malformed after one corrective re-prompt degrade the
// whole record to not-found; call failures are returned as errors.
func (m *Mapper) Map(ctx context.Context, ic *model.IntermediateContext, fs *model.FieldSet, flow model.Flow) (*MapResult, error) {
	log := zap.L().With(zap.String("document", ic.DocumentID), zap.String("flow", string(flow)))

	rec := model.NewRecord(ic.DocumentID, flow, fs)
	rec.Model = m.llm.Model()
	rec.ExtractedAt = time.Now().UTC()
	res := &MapResult{Record: rec}

	if ic.Empty() {
		log.Info("empty context, all fields not found")
		return res, nil
	}

	var problems []string
	for _, g := range m.plan(ic, fs, flow) {
		vals, problem, err := m.mapGroup(ctx, ic.DocumentID, g)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: map %s", groupName(g))
		}
		if problem != "" {
			problems = append(problems, groupName(g)+": "+problem)
			continue
		}
		for name, v := range vals {
			if cur := rec.Fields[name]; !cur.Found {
				rec.Fields[name] = v
			}
		}
	}

	if len(problems) > 0 {
		for name := range rec.Fields {
			rec.Fields[name] = model.NotFound
		}
		rec.Degraded = true
		res.Problem = strings.Join(problems, "; ")
		log.Warn("mapping degraded", zap.String("problem", res.Problem))
	}
	return res, nil
}

func (m *Mapper) plan(ic *model.IntermediateContext, fs *model.FieldSet, flow model.Flow) []group {
	whole := ic.Render()
	if flow == model.FlowOld {
		return []group{{fields: fs.Fields(), context: whole}}
	}

	fsGroups := fs.Groups("")
	out := make([]group, 0, len(fsGroups))
	for _, g := range fsGroups {
		text := ""
		if g.Category != "" {
			text = ic.Render(normalizeKey(g.Category))
		}
		if strings.TrimSpace(text) == "" {
			text = whole
		}
		out = append(out, group{category: g.Category, fields: g.Fields, context: text})
	}
	return out
}

func (m *Mapper) mapGroup(ctx context.Context, docID string, g group) (map[string]model.Value, string, error) {
	names := make([]string, len(g.fields))
	for i, f := range g.fields {
		names[i] = f.Name
	}

	system, err := render(m.prompts.mappingSystem, mappingSystemData{
		FieldTable: fieldspec.RenderTable(g.fields),
		FieldNames: names,
	})
	if err != nil {
		return nil, "", err
	}
	user, err := render(m.prompts.mappingUser, mappingUserData{DocumentID: docID, Category: g.category, Context: g.context})
	if err != nil {
		return nil, "", err
	}

	v, err := m.validator(g.fields, names)
	if err != nil {
		return nil, "", err
	}
	schema := fieldspec.JSONSchema(g.fields)

	resp, err := complete(ctx, m.llm, m.opts, docID, model.StageMapping, llm.Request{System: system, Prompt: user, JSONSchema: schema})
	if err != nil {
		return nil, "", err
	}
	vals, perr := parseMapping(resp.Text, g.fields, v)
	if perr == nil {
		return vals, "", nil
	}

	zap.L().Warn("mapping reply malformed, re-prompting",
		zap.String("document", docID),
		zap.String("group", groupName(g)),
		zap.Error(perr),
	)
	repair, err := render(m.prompts.repair, repairData{Prompt: user, Problem: perr.Error(), FieldNames: names})
	if err != nil {
		return nil, "", err
	}
	resp, err = complete(ctx, m.llm, m.opts, docID, model.StageMapping, llm.Request{System: system, Prompt: repair, JSONSchema: schema})
	if err != nil {
		return nil, "", err
	}
	vals, perr = parseMapping(resp.Text, g.fields, v)
	if perr != nil {
		return nil, perr.Error(), nil
	}
	return vals, "", nil
}

func (m *Mapper) validator(fields []model.FieldSpec, names []string) (*fieldspec.Validator, error) {
	key := strings.Join(names, "\x00")
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.validators[key]; ok {
		return v, nil
	}
	v, err := fieldspec.Compile(fields)
	if err != nil {
		return nil, err
	}
	m.validators[key] = v
	return v, nil
}

// parseMapping decodes a Stage 2 reply into values for fields. Keys outside
// fields are dropped. When a field has several candidates, the first
// well-formed one in reply order wins.
func parseMapping(text string, fields []model.FieldSpec, v *fieldspec.Validator) (map[string]model.Value, error) {
	cleaned := cleanJSON(text)

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, eris.Wrap(err, "reply is not valid json")
	}
	switch d := doc.(type) {
	case []any:
		for i, el := range d {
			if err := v.Validate(el); err != nil {
				return nil, eris.Wrapf(err, "element %d", i)
			}
		}
	default:
		if err := v.Validate(d); err != nil {
			return nil, err
		}
	}

	members, err := decodeMembers([]byte(cleaned))
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]string, len(fields)*2)
	for _, f := range fields {
		byKey[normalizeKey(f.Name)] = f.Name
	}
	for _, f := range fields {
		byKey[f.Name] = f.Name
	}

	out := make(map[string]model.Value, len(fields))
	for _, mem := range members {
		name, ok := byKey[mem.Key]
		if !ok {
			name, ok = byKey[normalizeKey(mem.Key)]
		}
		if !ok {
			continue
		}
		if _, taken := out[name]; taken {
			continue
		}
		if text, ok := firstCandidate(mem.Value); ok {
			out[name] = model.Found(text)
		}
	}
	return out, nil
}

func groupName(g group) string {
	if g.category == "" {
		return "all fields"
	}
	return g.category
}
