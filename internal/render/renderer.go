package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/islentev/report-generator/internal/metadata"
)

const DefaultPlaceholder = "________________"

var DefaultKeywords = []string{
	"Акт", "Фотоотчет", "Ведомость", "Скриншот", "Смета", "Резюме", "USB", "Флеш-накопитель", "Ссылка",
}

// Labels holds every fixed string of the report layout.
type Labels struct {
	Title               []string // printf formats taking contract_no, contract_date, ikz in order
	ProjectLabel        string
	CustomerLabel       string
	ExecutorLabel       string
	CustomerSide        string
	ExecutorSide        string
	Seal                string
	ReportHeading       string // printf format taking project_name
	RequirementsHeading string
}

func DefaultLabels() Labels {
	return Labels{
		Title: []string{
			"ОТЧЕТ",
			"об исполнении контракта № %s от %s",
			"ИКЗ: %s",
		},
		ProjectLabel:        "Наименование услуг:",
		CustomerLabel:       "Заказчик:",
		ExecutorLabel:       "Исполнитель:",
		CustomerSide:        "ЗАКАЗЧИК",
		ExecutorSide:        "ИСПОЛНИТЕЛЬ",
		Seal:                "М.П.",
		ReportHeading:       "Отчет об оказании услуг по %s",
		RequirementsHeading: "ТРЕБОВАНИЯ К ПРЕДОСТАВЛЯЕМОЙ ДОКУМЕНТАЦИИ",
	}
}

// Renderer is stateless; Render is a pure function of its arguments and the
// renderer's fields.
type Renderer struct {
	Labels      Labels
	Keywords    []string
	Placeholder string
}

func NewRenderer(keywords []string, placeholder string) *Renderer {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	return &Renderer{Labels: DefaultLabels(), Keywords: keywords, Placeholder: placeholder}
}

func (r *Renderer) value(v string) string {
	if metadata.IsUnknown(v) {
		return r.Placeholder
	}
	return v
}

// Render lays out title page, signature table, report body and the
// requirements checklist, then marks keyword runs. Requirements are skipped
// when blank.
func (r *Renderer) Render(meta metadata.Contract, body, requirements string) Document {
	var blocks []Block

	titleArgs := []any{r.value(meta.ContractNo), r.value(meta.ContractDate), r.value(meta.IKZ)}
	argi := 0
	for _, line := range r.Labels.Title {
		n := strings.Count(line, "%s")
		text := line
		if n > 0 && argi+n <= len(titleArgs) {
			text = fmt.Sprintf(line, titleArgs[argi:argi+n]...)
			argi += n
		}
		blocks = append(blocks, Block{
			Kind:  KindParagraph,
			Align: AlignCenter,
			Runs:  []Run{{Text: text, Bold: true}},
		})
	}

	for _, lv := range []struct{ label, value string }{
		{r.Labels.ProjectLabel, meta.ProjectName},
		{r.Labels.CustomerLabel, meta.Customer},
		{r.Labels.ExecutorLabel, meta.Executor},
	} {
		blocks = append(blocks, Block{
			Kind:  KindParagraph,
			Align: AlignCenter,
			Runs: []Run{
				{Text: lv.label + " ", Bold: true},
				{Text: r.value(lv.value), Italic: true},
			},
		})
	}

	blocks = append(blocks, r.signatureTable(meta))
	blocks = append(blocks, Block{Kind: KindPageBreak})

	blocks = append(blocks, Block{
		Kind:  KindParagraph,
		Align: AlignCenter,
		Runs:  []Run{{Text: fmt.Sprintf(r.Labels.ReportHeading, r.value(meta.ProjectName)), Bold: true}},
	})
	blocks = append(blocks, BodyBlocks(body)...)

	if req := strings.TrimSpace(requirements); req != "" {
		blocks = append(blocks,
			Block{Kind: KindPageBreak},
			Block{
				Kind:  KindHeading,
				Level: 1,
				Runs:  []Run{{Text: r.Labels.RequirementsHeading, Bold: true}},
			},
			Block{Kind: KindParagraph, Align: AlignJustify, Runs: lineRuns(req, false)},
		)
	}

	doc := Document{Blocks: blocks}
	Highlight(&doc, r.Keywords)
	return doc
}

func (r *Renderer) signatureTable(meta metadata.Contract) Block {
	side := func(heading, party, post, signer string) Cell {
		return Cell{Blocks: []Block{
			{Kind: KindParagraph, Runs: []Run{{Text: heading, Bold: true}}},
			{Kind: KindParagraph, Runs: []Run{{Text: r.value(party)}}},
			{Kind: KindParagraph, Runs: []Run{{Text: r.value(post)}}},
			{Kind: KindParagraph, Runs: []Run{{Text: r.Placeholder + " / " + r.value(signer) + " /"}}},
			{Kind: KindParagraph, Runs: []Run{{Text: r.Labels.Seal}}},
		}}
	}
	return Block{
		Kind: KindTable,
		Table: &Table{Rows: [][]Cell{{
			side(r.Labels.CustomerSide, meta.Customer, meta.CustomerPost, meta.CustomerSigner),
			side(r.Labels.ExecutorSide, meta.Executor, meta.DirectorPost, meta.DirectorName),
		}}},
	}
}

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)
	numberedItem   = regexp.MustCompile(`^\d+\.`)
)

// BodyBlocks splits report prose on blank lines into justified paragraphs.
// A paragraph opening with "N." is a numbered item and is set bold.
func BodyBlocks(body string) []Block {
	body = Sanitize(strings.ReplaceAll(body, "\r\n", "\n"))
	var out []Block
	for _, para := range paragraphBreak.Split(body, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		out = append(out, Block{
			Kind:  KindParagraph,
			Align: AlignJustify,
			Runs:  lineRuns(para, numberedItem.MatchString(para)),
		})
	}
	return out
}

func lineRuns(text string, bold bool) []Run {
	lines := strings.Split(text, "\n")
	runs := make([]Run, 0, len(lines))
	for i, line := range lines {
		runs = append(runs, Run{Text: strings.TrimRight(line, " \t"), Bold: bold, Break: i > 0})
	}
	return runs
}

var (
	tableSeparator = regexp.MustCompile(`(?m)^[ \t]*\|?[ \t]*:?-{3,}:?[ \t]*(?:\|[ \t]*:?-{3,}:?[ \t]*)*\|?[ \t]*$\n?`)
	headingHashes  = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+`)
	bulletStar     = regexp.MustCompile(`(?m)^([ \t]*)[*+][ \t]+`)
	singleEmphasis = regexp.MustCompile(`\*([^*\n]+)\*`)
	spaceRuns      = regexp.MustCompile(`[ \t]{2,}`)
)

// Sanitize strips markdown residue the text service leaves in prose:
// emphasis markers, heading hashes, table pipes and separator rows, and
// backticks.
func Sanitize(s string) string {
	s = tableSeparator.ReplaceAllString(s, "")
	s = headingHashes.ReplaceAllString(s, "")
	s = bulletStar.ReplaceAllString(s, "$1- ")
	s = strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
	s = singleEmphasis.ReplaceAllString(s, "$1")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.Contains(line, "|") {
			line = strings.Trim(strings.TrimSpace(line), "|")
			line = strings.ReplaceAll(line, "|", " ")
			line = spaceRuns.ReplaceAllString(strings.TrimSpace(line), " ")
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// Highlight marks every run whose text contains one of keywords, compared
// case-insensitively. It runs over the finished layout, tables included.
func Highlight(doc *Document, keywords []string) {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	if len(lowered) == 0 {
		return
	}
	walkRuns(doc.Blocks, func(run *Run) {
		text := strings.ToLower(run.Text)
		for _, k := range lowered {
			if strings.Contains(text, k) {
				run.Highlight = true
				return
			}
		}
	})
}
