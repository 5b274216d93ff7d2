package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// member is one key/value pair of a JSON object in source order.
// Duplicate keys are kept.
type member struct {
	Key   string
	Value json.RawMessage
}

// decodeMembers decodes data as a JSON object, or an array of objects, into
// its members in source order.
func decodeMembers(data []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, eris.Wrap(err, "extract: read json")
	}
	var out []member
	switch tok {
	case json.Delim('{'):
		out, err = readObject(dec)
	case json.Delim('['):
		for dec.More() {
			t, err := dec.Token()
			if err != nil {
				return nil, eris.Wrap(err, "extract: read json array")
			}
			if t != json.Delim('{') {
				return nil, eris.New("extract: array element is not an object")
			}
			ms, err := readObject(dec)
			if err != nil {
				return nil, err
			}
			out = append(out, ms...)
		}
		_, err = dec.Token()
	default:
		return nil, eris.New("extract: response is not a json object")
	}
	if err != nil {
		return nil, eris.Wrap(err, "extract: read json")
	}
	if _, err := dec.Token(); err == nil {
		return nil, eris.New("extract: trailing data after json value")
	}
	return out, nil
}

// readObject reads members until the closing brace; the opening brace has
// already been consumed.
func readObject(dec *json.Decoder) ([]member, error) {
	var out []member
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return nil, eris.Wrap(err, "extract: read json key")
		}
		key, ok := t.(string)
		if !ok {
			return nil, eris.New("extract: object key is not a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, eris.Wrapf(err, "extract: read value of %q", key)
		}
		out = append(out, member{Key: key, Value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "extract: read json object end")
	}
	return out, nil
}

var nullWords = map[string]bool{
	"null":  true,
	"n/a":   true,
	"na":    true,
	"none":  true,
	"empty": true,
	"-":     true,
	"":      true,
}

// scalar returns the text of a well-formed scalar: a non-blank string that
// is not a null word, a number, or a boolean.
func scalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		if nullWords[strings.ToLower(s)] {
			return "", false
		}
		return s, true
	case 't', 'f':
		return string(raw), string(raw) == "true" || string(raw) == "false"
	case 'n', '{', '[':
		return "", false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

// firstCandidate returns the first well-formed value in raw, looking inside
// arrays in order.
func firstCandidate(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", false
		}
		for _, it := range items {
			if v, ok := firstCandidate(it); ok {
				return v, true
			}
		}
		return "", false
	}
	return scalar(raw)
}

// normalizeKey lowercases k and turns spaces and dashes into underscores.
func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(k)
}
