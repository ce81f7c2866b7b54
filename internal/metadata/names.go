package metadata

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// titleWords are stripped from name fields before abbreviation. Extraction
// sometimes folds the signer's post into the name.
var titleWords = map[string]bool{
	"director": true, "general": true, "deputy": true, "minister": true, "head": true,
	"chief": true, "ceo": true, "president": true, "chairman": true, "manager": true,
	"acting": true, "mr": true, "mrs": true, "ms": true, "dr": true,
	"директор": true, "генеральный": true, "заместитель": true, "министр": true,
	"руководитель": true, "начальник": true, "президент": true, "председатель": true,
	"ректор": true, "главный": true, "первый": true, "управляющий": true, "менеджер": true,
	"врио": true, "и.о": true, "исполняющий": true, "обязанности": true,
	"г-н": true, "г-жа": true, "господин": true, "госпожа": true,
	// genitive forms, as in "в лице директора ..."
	"директора": true, "заместителя": true, "министра": true, "руководителя": true,
	"начальника": true, "председателя": true, "генерального": true,
}

var initialsToken = regexp.MustCompile(`^(?:\p{Lu}\.?)+$`)

// FormatName abbreviates a person's name to "Surname F.P.". Three words give
// two initials, two words give one, a lone word is returned as is. Titles
// are dropped first; names already in initials form, in either order, are
// normalized rather than re-abbreviated.
func FormatName(raw string) string {
	if IsUnknown(raw) {
		return Unknown
	}

	var words, initials []string
	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	}) {
		key := strings.ToLower(strings.TrimRight(tok, ".:;"))
		if titleWords[key] || !strings.ContainsFunc(tok, unicode.IsLetter) {
			continue
		}
		if isInitials(tok) {
			initials = append(initials, tok)
			continue
		}
		words = append(words, strings.Trim(tok, ".:;\"'«»()"))
	}

	if len(initials) > 0 {
		var sb strings.Builder
		for _, tok := range initials {
			for _, r := range tok {
				if unicode.IsLetter(r) {
					sb.WriteRune(r)
					sb.WriteByte('.')
				}
			}
		}
		if len(words) == 0 {
			return sb.String()
		}
		return words[0] + " " + sb.String()
	}

	switch len(words) {
	case 0:
		return Unknown
	case 1:
		return words[0]
	case 2:
		return words[0] + " " + initial(words[1])
	default:
		return words[0] + " " + initial(words[1]) + initial(words[2])
	}
}

// isInitials matches "И.", "И.И." and "ИИ." but not a capitalized word.
func isInitials(tok string) bool {
	if !initialsToken.MatchString(tok) {
		return false
	}
	return strings.Contains(tok, ".") || utf8.RuneCountInString(tok) == 1
}

func initial(word string) string {
	r, _ := utf8.DecodeRuneInString(word)
	return string(unicode.ToUpper(r)) + "."
}

var unknownValues = map[string]bool{
	"null": true, "none": true, "nil": true, "unknown": true, "n/a": true, "na": true,
	"not found": true, "not specified": true,
	"не указано": true, "не указан": true, "не указана": true, "не найдено": true,
	"нет": true, "нет данных": true, "отсутствует": true, "неизвестно": true,
}

// IsUnknown reports whether v is a placeholder the service used for "not
// found" rather than a real value.
func IsUnknown(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	if unknownValues[strings.ToLower(strings.Trim(v, ".!"))] {
		return true
	}
	return !strings.ContainsFunc(v, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	})
}
