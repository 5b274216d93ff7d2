package fieldspec

import (
	"regexp"
	"strings"

	"github.com/sells-group/cao-extract/internal/model"
)

var (
	dateExample   = regexp.MustCompile(`^(\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4})$`)
	numberExample = regexp.MustCompile(`^[€$£]?\s*-?\d[\d.,\s]*%?\s*(eur|euro|usd)?$`)

	dateWords   = []string{"datum", "date", "ingangsdatum", "einddatum", "startdatum", "expiry", "valid_from", "valid_to", "validity_start", "validity_end"}
	numberWords = []string{"aantal", "percentage", "bedrag", "amount", "number_of", "hours", "uren", "dagen", "days", "rate", "wage", "loon", "salary", "salaris", "premie", "count"}
)

// InferType guesses a field's comparison type from its example, then its
// name. Anything unrecognised is text.
func InferType(spec model.FieldSpec) model.FieldType {
	ex := strings.ToLower(strings.TrimSpace(spec.Example))
	if ex != "" {
		switch {
		case dateExample.MatchString(ex):
			return model.FieldTypeDate
		case numberExample.MatchString(ex):
			return model.FieldTypeNumber
		}
		return model.FieldTypeText
	}

	name := strings.ToLower(spec.Name)
	for _, w := range dateWords {
		if strings.Contains(name, w) {
			return model.FieldTypeDate
		}
	}
	for _, w := range numberWords {
		if strings.Contains(name, w) {
			return model.FieldTypeNumber
		}
	}
	return model.FieldTypeText
}
