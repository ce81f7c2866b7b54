package rewrite

import (
	"fmt"
	"strings"

	"github.com/islentev/report-generator/internal/llm"
)

const (
	generateTemperature = 0.1
	verifyTemperature   = 0
)

// PromptBuilder constructs the three requests of the protocol. Every request
// carries the full source text; the service keeps no state between calls.
type PromptBuilder struct {
	Rules     StyleRules
	ZeroToken string
	// Temperature applies to generate and repair; 0 means the default. The
	// verify call always runs at 0.
	Temperature float64
}

func (pb *PromptBuilder) temperature() float64 {
	if pb.Temperature > 0 {
		return pb.Temperature
	}
	return generateTemperature
}

func (pb *PromptBuilder) coreRules() string {
	var sb strings.Builder
	n := 1
	if pb.Rules.PreserveNumbering {
		fmt.Fprintf(&sb, "%d. НУМЕРАЦИЯ: Сохраняй нумерацию пунктов (1.1, 1.2...) строго как в ТЗ.\n", n)
		n++
	}
	if t := strings.TrimSpace(pb.Rules.Tense); t != "" {
		fmt.Fprintf(&sb, "%d. ВРЕМЯ: %s\n", n, t)
		n++
	}
	if len(pb.Rules.BannedWords) > 0 {
		quoted := make([]string, len(pb.Rules.BannedWords))
		for i, w := range pb.Rules.BannedWords {
			quoted[i] = "'" + w + "'"
		}
		fmt.Fprintf(&sb, "%d. ЗАПРЕТ: Удали слова %s. Только свершившийся факт.\n", n, strings.Join(quoted, ", "))
		n++
	}
	fmt.Fprintf(&sb, "%d. ПОЛНОТА: Все цифры, объемы и характеристики из ТЗ должны быть перенесены в отчет.\n", n)
	return sb.String()
}

func (pb *PromptBuilder) supplementary() string {
	if s := strings.TrimSpace(pb.Rules.Supplementary); s != "" {
		return "\nДоп. требования: " + s
	}
	return ""
}

// Generate asks for the first draft.
func (pb *PromptBuilder) Generate(source string) llm.Request {
	return llm.Request{
		System:      "Ты юридический редактор. Перепиши ТЗ в Отчет. Правила:\n" + pb.coreRules() + pb.supplementary(),
		User:        "ТРАНСФОРМИРУЙ В ОТЧЕТ:\n\n" + source,
		Temperature: pb.temperature(),
		Format:      llm.FormatText,
	}
}

// Verify asks the checker to compare source and draft.
func (pb *PromptBuilder) Verify(source, draft string) llm.Request {
	return llm.Request{
		System: "Ты контролер. Найди упущенные цифры/характеристики в Отчете, сравнив его с ТЗ.",
		User: fmt.Sprintf("ТЗ: %s\n\nОТЧЕТ: %s\n\nВыдай ответ: '%s' или список пропусков, каждый с новой строки через '-'.",
			source, draft, pb.ZeroToken),
		Temperature: verifyTemperature,
		Format:      llm.FormatText,
	}
}

// Repair asks for a corrected draft given the checker's findings.
func (pb *PromptBuilder) Repair(source, draft, findings string) llm.Request {
	return llm.Request{
		System:      "Исправь отчет, сохранив стиль:\n" + pb.coreRules() + pb.supplementary(),
		User:        fmt.Sprintf("ТЗ: %s\nОшибки: %s\nИсправь этот текст: %s", source, findings, draft),
		Temperature: pb.temperature(),
		Format:      llm.FormatText,
	}
}
