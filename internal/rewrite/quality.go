package rewrite

import (
	"strings"
	"unicode"
)

const (
	IssueEmpty          = "empty_output"
	IssueBannedWords    = "residual_banned_words"
	IssueMarkdown       = "markdown_residue"
	IssueInstructionish = "instructional_text"
)

// assessReport flags problems in a finished chunk. It only reports; the
// protocol has already spent its one repair.
func assessReport(text string, banned []string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{IssueEmpty}
	}

	issues := make([]string, 0, 3)
	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		seen[w] = true
	}
	for _, b := range banned {
		if seen[strings.ToLower(strings.TrimSpace(b))] {
			issues = append(issues, IssueBannedWords)
			break
		}
	}

	if strings.Contains(text, "**") || strings.Contains(text, "##") || strings.Contains(text, "|---") {
		issues = append(issues, IssueMarkdown)
	}

	for _, token := range []string{"трансформируй", "перепиши", "как языковая модель", "as an ai"} {
		if strings.Contains(lower, token) {
			issues = append(issues, IssueInstructionish)
			break
		}
	}
	if len(issues) == 0 {
		return nil
	}
	return issues
}
