// Package document loads uploaded contract files into an ordered sequence of
// plain-text blocks. Binary formats stop here; everything downstream sees text.
package document

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyInput is returned when a document yields no extractable text.
var ErrEmptyInput = errors.New("document has no extractable text")

type BlockKind string

const (
	KindParagraph BlockKind = "paragraph"
	KindTableRow  BlockKind = "table_row"
)

// Block is one paragraph or one flattened table row, in document order.
type Block struct {
	Kind BlockKind
	Text string
}

// Source is the immutable, request-scoped view of an uploaded document.
type Source struct {
	Name   string
	Blocks []Block
}

// Text flattens the non-empty blocks into one NFC-normalized string.
func (s Source) Text() string {
	parts := make([]string, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		t := strings.TrimSpace(b.Text)
		if t == "" {
			continue
		}
		parts = append(parts, t)
	}
	return norm.NFC.String(strings.Join(parts, "\n"))
}

// Load reads a document from disk and parses it by extension.
func Load(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, err
	}
	return Parse(filepath.Base(path), data)
}

// Parse dispatches on the file name extension. Unknown extensions are read as
// plain text when the payload is valid UTF-8.
func Parse(name string, data []byte) (Source, error) {
	var (
		blocks []Block
		err    error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".docx":
		blocks, err = parseDocx(data)
	case ".txt", ".text", ".md", "":
		blocks = parsePlain(string(data))
	default:
		if !utf8.Valid(data) {
			return Source{}, fmt.Errorf("unsupported format: %q", filepath.Ext(name))
		}
		blocks = parsePlain(string(data))
	}
	if err != nil {
		return Source{}, fmt.Errorf("parse %s: %w", name, err)
	}

	src := Source{Name: name, Blocks: blocks}
	if strings.TrimSpace(src.Text()) == "" {
		return Source{}, ErrEmptyInput
	}
	return src, nil
}

// FromText wraps an already-extracted text blob.
func FromText(name, text string) Source {
	return Source{Name: name, Blocks: parsePlain(text)}
}

func parsePlain(text string) []Block {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	blocks := make([]Block, 0, len(lines))
	for _, line := range lines {
		blocks = append(blocks, Block{Kind: KindParagraph, Text: line})
	}
	return blocks
}

// ContextWindow returns the first head and last tail runes of text, joined by
// an elision line. Signing and registration details live at the two ends of a
// contract, so the middle is left out.
func ContextWindow(text string, head, tail int) string {
	runes := []rune(text)
	if head < 0 {
		head = 0
	}
	if tail < 0 {
		tail = 0
	}
	if len(runes) <= head+tail {
		return text
	}
	var sb strings.Builder
	sb.WriteString(string(runes[:head]))
	if head > 0 && tail > 0 {
		sb.WriteString("\n...\n")
	}
	sb.WriteString(string(runes[len(runes)-tail:]))
	return sb.String()
}
