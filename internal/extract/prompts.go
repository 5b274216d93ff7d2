package extract

import (
	"bytes"
	_ "embed"
	"os"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
)

//go:embed prompts/context_system.tmpl
var contextSystemTmpl string

//go:embed prompts/context_user.tmpl
var contextUserTmpl string

//go:embed prompts/mapping_system.tmpl
var mappingSystemTmpl string

//go:embed prompts/mapping_user.tmpl
var mappingUserTmpl string

//go:embed prompts/repair.tmpl
var repairTmpl string

var funcs = template.FuncMap{"join": strings.Join}

// Prompts holds the parsed prompt templates for both stages.
type Prompts struct {
	contextSystem *template.Template
	contextUser   *template.Template
	mappingSystem *template.Template
	mappingUser   *template.Template
	repair        *template.Template
}

// LoadPrompts parses the built-in templates, replacing the two system
// prompts with the files at contextPath and mappingPath when set.
func LoadPrompts(contextPath, mappingPath string) (*Prompts, error) {
	ctxSys, err := readOverride(contextPath, contextSystemTmpl)
	if err != nil {
		return nil, err
	}
	mapSys, err := readOverride(mappingPath, mappingSystemTmpl)
	if err != nil {
		return nil, err
	}

	p := &Prompts{}
	for _, t := range []struct {
		dst  **template.Template
		name string
		text string
	}{
		{&p.contextSystem, "context_system", ctxSys},
		{&p.contextUser, "context_user", contextUserTmpl},
		{&p.mappingSystem, "mapping_system", mapSys},
		{&p.mappingUser, "mapping_user", mappingUserTmpl},
		{&p.repair, "repair", repairTmpl},
	} {
		parsed, err := template.New(t.name).Funcs(funcs).Option("missingkey=error").Parse(t.text)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: parse %s prompt", t.name)
		}
		*t.dst = parsed
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	return p, nil
}

// check renders every template once with sample data so that references
// to unknown fields fail at load time rather than mid-batch.
func (p *Prompts) check() error {
	names := []string{"field"}
	samples := []struct {
		t    *template.Template
		data any
	}{
		{p.contextSystem, contextSystemData{Categories: names, FieldTable: "| field |"}},
		{p.contextUser, contextUserData{DocumentID: "1", Text: "text"}},
		{p.mappingSystem, mappingSystemData{FieldTable: "| field |", FieldNames: names}},
		{p.mappingUser, mappingUserData{DocumentID: "1", Category: "c", Context: "ctx"}},
		{p.repair, repairData{Prompt: "p", Problem: "x", FieldNames: names}},
	}
	for _, s := range samples {
		if _, err := render(s.t, s.data); err != nil {
			return err
		}
	}
	return nil
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() *Prompts {
	p, err := LoadPrompts("", "")
	if err != nil {
		panic(err)
	}
	return p
}

func readOverride(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "extract: read prompt %s", path)
	}
	return string(b), nil
}

type contextSystemData struct {
	Categories []string
	FieldTable string
}

type contextUserData struct {
	DocumentID string
	Text       string
}

type mappingSystemData struct {
	FieldTable string
	FieldNames []string
}

type mappingUserData struct {
	DocumentID string
	Category   string
	Context    string
}

type repairData struct {
	Prompt     string
	Problem    string
	FieldNames []string
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", eris.Wrapf(err, "extract: render %s prompt", t.Name())
	}
	return buf.String(), nil
}
