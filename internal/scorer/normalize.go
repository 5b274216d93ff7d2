package scorer

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DateOrder resolves ambiguous numeric dates such as 01/02/2026.
type DateOrder string

const (
	DayMonthYear DateOrder = "dmy"
	MonthDayYear DateOrder = "mdy"
)

var fold = cases.Fold()

// NormalizeText applies NFKC, strips diacritics, case-folds and collapses
// whitespace.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	s = fold.String(s)
	return strings.Join(strings.Fields(s), " ")
}

var (
	currencyWords = regexp.MustCompile(`\b(eur|euro|euros|usd|dollar|dollars|gbp)\b`)
	plainNumber   = regexp.MustCompile(`^[-+]?\d+(\.\d+)?$`)
)

// ParseNumber reads a decimal amount. Currency symbols and codes, percent
// signs and the Dutch ",-" suffix are ignored. With both separators present
// the last one is the decimal mark. A single comma is a decimal comma; a
// single point followed by exactly three digits is a Dutch thousands point.
func ParseNumber(s string) (float64, bool) {
	s = NormalizeText(s)
	s = currencyWords.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '€' || r == '$' || r == '£' || r == '%' || r == '\'' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	for _, suffix := range []string{",--", ",-", ".-"} {
		s = strings.TrimSuffix(s, suffix)
	}

	commas, points := strings.Count(s, ","), strings.Count(s, ".")
	switch {
	case commas > 0 && points > 0:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case commas == 1:
		s = strings.Replace(s, ",", ".", 1)
	case points > 1:
		s = strings.ReplaceAll(s, ".", "")
	case points == 1 && len(s)-strings.Index(s, ".")-1 == 3:
		s = strings.Replace(s, ".", "", 1)
	}
	if !plainNumber.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

var months = map[string]time.Month{
	"januari": time.January, "january": time.January, "jan": time.January,
	"februari": time.February, "february": time.February, "feb": time.February,
	"maart": time.March, "march": time.March, "mrt": time.March, "mar": time.March, "maa": time.March,
	"april": time.April, "apr": time.April,
	"mei": time.May, "may": time.May,
	"juni": time.June, "june": time.June, "jun": time.June,
	"juli": time.July, "july": time.July, "jul": time.July,
	"augustus": time.August, "august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"oktober": time.October, "october": time.October, "okt": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var (
	isoDate     = regexp.MustCompile(`^(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})(?:[ t].*)?$`)
	numericDate = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})[-/.](\d{2}|\d{4})$`)
	dayName     = regexp.MustCompile(`^(\d{1,2})\s+([a-z]+)\.?\s+(\d{4})$`)
	nameDay     = regexp.MustCompile(`^([a-z]+)\.?\s+(\d{1,2}),?\s+(\d{4})$`)
)

// ParseDate reads a calendar date in ISO form, numeric day/month/year in
// the given order, or with a Dutch or English month name.
func ParseDate(s string, order DateOrder) (time.Time, bool) {
	s = NormalizeText(s)
	if m := isoDate.FindStringSubmatch(s); m != nil {
		return mkDate(m[1], m[2], m[3])
	}
	if m := numericDate.FindStringSubmatch(s); m != nil {
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		if order == MonthDayYear {
			return mkDate(year, m[1], m[2])
		}
		return mkDate(year, m[2], m[1])
	}
	if m := dayName.FindStringSubmatch(s); m != nil {
		if mon, ok := months[m[2]]; ok {
			return mkDate(m[3], strconv.Itoa(int(mon)), m[1])
		}
	}
	if m := nameDay.FindStringSubmatch(s); m != nil {
		if mon, ok := months[m[1]]; ok {
			return mkDate(m[3], strconv.Itoa(int(mon)), m[2])
		}
	}
	return time.Time{}, false
}

func mkDate(year, month, day string) (time.Time, bool) {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil || m < 1 || m > 12 || d < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

var nullWords = map[string]bool{
	"": true, "-": true, "--": true, "null": true, "none": true, "n/a": true, "na": true,
	"nvt": true, "n.v.t.": true, "n.v.t": true, "empty": true, "onbekend": true,
}

// Blank reports whether a value carries no information.
func Blank(s string) bool {
	return nullWords[NormalizeText(s)]
}
