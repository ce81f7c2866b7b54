package metadata

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// literalFields must appear in the window exactly, ignoring spaces and case.
var literalFields = map[Field]bool{
	FieldContractNo: true,
	FieldIKZ:        true,
}

var (
	numericDate = regexp.MustCompile(`(\d{1,2})\s*[./-]\s*(\d{1,2})\s*[./-]\s*(\d{4}|\d{2})`)
	wordDate    = regexp.MustCompile(`(?i)«?\s*(\d{1,2})\s*»?\s+(январ|феврал|март|апрел|ма[йя]|июн|июл|август|сентябр|октябр|ноябр|декабр)\p{L}*\s+(\d{4})`)
)

var monthStems = map[string]int{
	"январ": 1, "феврал": 2, "март": 3, "апрел": 4, "май": 5, "мая": 5,
	"июн": 6, "июл": 7, "август": 8, "сентябр": 9, "октябр": 10, "ноябр": 11, "декабр": 12,
}

// grounded reports whether the value v of field f comes from window.
// Contract numbers and IKZ must occur verbatim; dates must occur as the same
// calendar date in either numeric or word form. Other values need every
// significant token (a word of three or more letters, or a run of four or
// more digits) in the window; tokens without any must occur verbatim.
func grounded(f Field, v, window string) bool {
	lw := strings.ToLower(window)
	lv := strings.ToLower(v)

	switch {
	case literalFields[f]:
		lv = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lv), "№"))
		return lv != "" && strings.Contains(compact(lw), compact(lv))
	case f == FieldContractDate:
		want, ok := normalizeDate(lv)
		if !ok {
			return strings.Contains(compact(lw), compact(lv))
		}
		for _, d := range findDates(lw) {
			if d == want {
				return true
			}
		}
		return false
	}

	tokens := significantTokens(lv)
	if len(tokens) == 0 {
		return strings.Contains(compact(lw), compact(lv))
	}
	for _, tok := range tokens {
		if !tokenInWindow(tok, lw) {
			return false
		}
	}
	return true
}

func tokenInWindow(tok, lw string) bool {
	if strings.Contains(lw, tok) {
		return true
	}
	// inflected forms: "министерства" in the text, "министерство" extracted
	first, _ := utf8.DecodeRuneInString(tok)
	if n := utf8.RuneCountInString(tok); n >= 6 && !unicode.IsDigit(first) {
		return strings.Contains(lw, string([]rune(tok)[:n-2]))
	}
	return false
}

// normalizeDate turns the first date in s into dd.mm.yyyy.
func normalizeDate(s string) (string, bool) {
	dates := findDates(s)
	if len(dates) == 0 {
		return "", false
	}
	return dates[0], true
}

// findDates returns every date in s as dd.mm.yyyy, numeric forms first.
func findDates(s string) []string {
	var out []string
	for _, m := range numericDate.FindAllStringSubmatch(s, -1) {
		month, _ := strconv.Atoi(m[2])
		if d, ok := formatDate(m[1], month, m[3]); ok {
			out = append(out, d)
		}
	}
	for _, m := range wordDate.FindAllStringSubmatch(s, -1) {
		month, ok := monthStems[strings.ToLower(m[2])]
		if !ok {
			continue
		}
		if d, ok := formatDate(m[1], month, m[3]); ok {
			out = append(out, d)
		}
	}
	return out
}

func formatDate(dayStr string, month int, yearStr string) (string, bool) {
	day, err := strconv.Atoi(dayStr)
	if err != nil || day < 1 || day > 31 || month < 1 || month > 12 {
		return "", false
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return "", false
	}
	if len(yearStr) == 2 {
		year += 2000
	}
	return fmt.Sprintf("%02d.%02d.%04d", day, month, year), true
}

func significantTokens(s string) []string {
	var out []string
	var cur []rune
	digits := false
	flush := func() {
		if len(cur) >= 4 || (!digits && len(cur) >= 3) {
			out = append(out, string(cur))
		}
		cur = cur[:0]
	}
	for _, r := range s {
		isDigit := unicode.IsDigit(r)
		if !isDigit && !unicode.IsLetter(r) {
			flush()
			continue
		}
		if len(cur) > 0 && isDigit != digits {
			flush()
		}
		digits = isDigit
		cur = append(cur, r)
	}
	flush()
	return out
}

func compact(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
