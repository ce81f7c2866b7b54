package section

import (
	"regexp"
	"strings"
)

// DefaultBoundary matches the start of a numbered item ("1.", "2.3", "  10.").
var DefaultBoundary = regexp.MustCompile(`(?m)^[ \t]*\d+\.`)

// Chunk is one independently rewritable slice of a section.
type Chunk struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

// Parts is a split section. Preamble holds the text ahead of the first
// numbered item (typically the section's own title lines); it is empty when
// the boundary never matched.
type Parts struct {
	Preamble string  `json:"preamble,omitempty"`
	Chunks   []Chunk `json:"chunks"`
}

// Split cuts text at the start of every boundary match, so the matched item
// number stays with the chunk it opens. Pieces are trimmed and whitespace-only
// pieces dropped; numbering is passed through untouched, gaps included. When
// the boundary never matches the whole text is a single chunk.
func Split(text string, boundary *regexp.Regexp) Parts {
	if boundary == nil {
		boundary = DefaultBoundary
	}

	locs := boundary.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		if piece := strings.TrimSpace(text); piece != "" {
			return Parts{Chunks: []Chunk{{Ordinal: 0, Text: piece}}}
		}
		return Parts{}
	}

	parts := Parts{Preamble: strings.TrimSpace(text[:locs[0][0]])}
	cuts := make([]int, 0, len(locs)+1)
	for _, loc := range locs {
		if len(cuts) == 0 || loc[0] > cuts[len(cuts)-1] {
			cuts = append(cuts, loc[0])
		}
	}
	cuts = append(cuts, len(text))

	for i := 0; i+1 < len(cuts); i++ {
		piece := strings.TrimSpace(text[cuts[i]:cuts[i+1]])
		if piece == "" {
			continue
		}
		parts.Chunks = append(parts.Chunks, Chunk{Ordinal: len(parts.Chunks), Text: piece})
	}
	return parts
}

// PromotePreamble turns a non-empty preamble into the leading chunk and
// renumbers the rest. Used when the section was not anchored on a marker, so
// the preamble is body text rather than a title.
func (p Parts) PromotePreamble() Parts {
	if p.Preamble == "" {
		return p
	}
	chunks := make([]Chunk, 0, len(p.Chunks)+1)
	chunks = append(chunks, Chunk{Ordinal: 0, Text: p.Preamble})
	for _, c := range p.Chunks {
		chunks = append(chunks, Chunk{Ordinal: len(chunks), Text: c.Text})
	}
	return Parts{Chunks: chunks}
}

// Join reassembles the section: preamble first, then chunks in ordinal order.
func (p Parts) Join() string {
	pieces := make([]string, 0, len(p.Chunks)+1)
	if p.Preamble != "" {
		pieces = append(pieces, p.Preamble)
	}
	for _, c := range p.Chunks {
		pieces = append(pieces, c.Text)
	}
	return strings.Join(pieces, "\n")
}
