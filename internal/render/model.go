// Package render lays out the final report as a format-neutral block
// sequence and serializes it to WordprocessingML.
package render

import "strings"

type Kind string

const (
	KindParagraph Kind = "paragraph"
	KindHeading   Kind = "heading"
	KindTable     Kind = "table"
	KindPageBreak Kind = "pagebreak"
)

type Align string

const (
	AlignLeft    Align = "left"
	AlignCenter  Align = "center"
	AlignJustify Align = "both"
)

// Run is a span of uniformly styled text. Break puts a line break before it.
type Run struct {
	Text      string `json:"text"`
	Bold      bool   `json:"bold,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Highlight bool   `json:"highlight,omitempty"`
	Break     bool   `json:"break,omitempty"`
}

type Cell struct {
	Blocks []Block `json:"blocks"`
}

type Table struct {
	Rows [][]Cell `json:"rows"`
}

type Block struct {
	Kind  Kind   `json:"kind"`
	Align Align  `json:"align,omitempty"`
	Runs  []Run  `json:"runs,omitempty"`
	Table *Table `json:"table,omitempty"`
	// Level applies to headings only.
	Level int `json:"level,omitempty"`
}

// Text is the block's plain text with line breaks restored.
func (b Block) Text() string {
	var sb strings.Builder
	for _, r := range b.Runs {
		if r.Break {
			sb.WriteByte('\n')
		}
		sb.WriteString(r.Text)
	}
	return sb.String()
}

type Document struct {
	Blocks []Block `json:"blocks"`
}

// Text flattens the document for previews: one line per paragraph, table
// cells separated by tabs, page breaks as form feeds.
func (d Document) Text() string {
	var sb strings.Builder
	writeBlocks(&sb, d.Blocks)
	return sb.String()
}

func writeBlocks(sb *strings.Builder, blocks []Block) {
	for _, b := range blocks {
		switch b.Kind {
		case KindPageBreak:
			sb.WriteString("\f\n")
		case KindTable:
			if b.Table == nil {
				continue
			}
			for _, row := range b.Table.Rows {
				cells := make([]string, len(row))
				for i, c := range row {
					var inner strings.Builder
					writeBlocks(&inner, c.Blocks)
					cells[i] = strings.ReplaceAll(strings.TrimRight(inner.String(), "\n"), "\n", " / ")
				}
				sb.WriteString(strings.Join(cells, "\t"))
				sb.WriteByte('\n')
			}
		default:
			sb.WriteString(b.Text())
			sb.WriteByte('\n')
		}
	}
}

// walkRuns visits every run, descending into table cells.
func walkRuns(blocks []Block, fn func(*Run)) {
	for i := range blocks {
		b := &blocks[i]
		for j := range b.Runs {
			fn(&b.Runs[j])
		}
		if b.Table != nil {
			for _, row := range b.Table.Rows {
				for k := range row {
					walkRuns(row[k].Blocks, fn)
				}
			}
		}
	}
}
