package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Flow selects the Stage 2 mapping strategy and the output directory.
type Flow string

const (
	FlowOld Flow = "old"
	FlowNew Flow = "new"
)

// ParseFlow parses a flow name.
func ParseFlow(s string) (Flow, error) {
	switch Flow(strings.ToLower(strings.TrimSpace(s))) {
	case FlowOld:
		return FlowOld, nil
	case FlowNew, "":
		return FlowNew, nil
	}
	return "", eris.Errorf("model: unknown flow %q", s)
}

// Dir returns the output directory name for the flow.
func (f Flow) Dir() string {
	return string(f) + "_flow"
}

// Value is an extracted field value or the explicit not-found marker.
// Not-found serializes as JSON null.
type Value struct {
	Text  string
	Found bool
}

// NotFound is the explicit not-found marker.
var NotFound = Value{}

// Found wraps a located value.
func Found(text string) Value {
	return Value{Text: text, Found: true}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Found {
		return []byte("null"), nil
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON implements json.Unmarshaler. Numbers and booleans are kept
// in their literal form.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = NotFound
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "model: decode value")
		}
		*v = Found(s)
		return nil
	}
	if data[0] == '{' || data[0] == '[' {
		return eris.New("model: value must be a scalar")
	}
	*v = Found(string(data))
	return nil
}

// ExtractedRecord is the Stage 2 output for one document and flow.
type ExtractedRecord struct {
	DocumentID  string           `json:"document_id"`
	Flow        Flow             `json:"flow"`
	Model       string           `json:"model,omitempty"`
	ExtractedAt time.Time        `json:"extracted_at"`
	Degraded    bool             `json:"degraded,omitempty"`
	Fields      map[string]Value `json:"fields"`
}

// NewRecord returns a record with every field of fs set to not-found.
func NewRecord(documentID string, flow Flow, fs *FieldSet) *ExtractedRecord {
	r := &ExtractedRecord{
		DocumentID: documentID,
		Flow:       flow,
		Fields:     make(map[string]Value, fs.Len()),
	}
	for _, name := range fs.Names() {
		r.Fields[name] = NotFound
	}
	return r
}

// FoundCount returns how many fields carry a value.
func (r *ExtractedRecord) FoundCount() int {
	n := 0
	for _, v := range r.Fields {
		if v.Found {
			n++
		}
	}
	return n
}

// Complete reports whether the record covers exactly the fields of fs.
func (r *ExtractedRecord) Complete(fs *FieldSet) bool {
	if len(r.Fields) != fs.Len() {
		return false
	}
	for _, name := range fs.Names() {
		if _, ok := r.Fields[name]; !ok {
			return false
		}
	}
	return true
}
