package extract

import (
	"encoding/json"
	"strings"
)

var invisible = strings.NewReplacer(
	"\ufeff", "",
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\u2060", "",
)

var curlyQuotes = strings.NewReplacer(
	"\u201c", `"`,
	"\u201d", `"`,
	"\u201e", `"`,
)

// cleanJSON strips code fences, invisible characters and surrounding prose
// from a model reply. If the result is still not valid JSON it tries to
// repair trailing commas, raw control characters and curly quotes, and
// returns the first variant that parses.
func cleanJSON(text string) string {
	text = invisible.Replace(strings.TrimSpace(text))
	text = stripFences(text)
	text = outermost(text)

	if json.Valid([]byte(text)) {
		return text
	}
	repaired := repairJSON(text)
	if json.Valid([]byte(repaired)) {
		return repaired
	}
	if straight := repairJSON(curlyQuotes.Replace(text)); json.Valid([]byte(straight)) {
		return straight
	}
	return repaired
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "{[") {
		text = text[nl+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// outermost slices text to the outermost object or array.
func outermost(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return text[start:]
	}
	return strings.TrimSpace(text[start : end+1])
}

// repairJSON drops trailing commas before } or ] and escapes raw newlines
// and tabs inside strings.
func repairJSON(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c == '\n':
				b.WriteString(`\n`)
				continue
			case c == '\r':
				b.WriteString(`\r`)
				continue
			case c == '\t':
				b.WriteString(`\t`)
				continue
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' && closesNext(text[i+1:]) {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func closesNext(rest string) bool {
	rest = strings.TrimLeft(rest, " \t\r\n")
	return rest != "" && (rest[0] == '}' || rest[0] == ']')
}
