// Package section finds the operative region of a contract text and cuts it
// into independently rewritable numbered-item chunks.
package section

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const defaultFallbackFraction = 0.6

// Config names one document family's boundaries. Markers are regular
// expressions matched case-insensitively, in priority order.
type Config struct {
	StartMarkers     []string
	EndMarkers       []string
	FallbackFraction float64
	MaxLength        int // bytes; 0 disables the cap
}

// Span is a half-open byte range [Start, End) into the located text.
// Anchored is false when no start marker matched and the trailing-fraction
// fallback was used instead.
type Span struct {
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Anchored    bool   `json:"anchored"`
	StartMarker string `json:"start_marker,omitempty"`
	EndMarker   string `json:"end_marker,omitempty"`
	MarkerEnd   int    `json:"marker_end,omitempty"` // end of the start marker match
}

// Empty reports whether the span covers nothing. Only empty documents
// produce an empty span.
func (s Span) Empty() bool { return s.End <= s.Start }

// Len is the span length in bytes.
func (s Span) Len() int {
	if s.Empty() {
		return 0
	}
	return s.End - s.Start
}

// Text slices doc by the span. It returns "" for spans that do not fit doc.
func (s Span) Text(doc string) string {
	if s.Empty() || s.Start < 0 || s.End > len(doc) {
		return ""
	}
	return doc[s.Start:s.End]
}

// Body is Text without the matched start marker and the punctuation that
// follows it, so a heading found in the document is not repeated.
func (s Span) Body(doc string) string {
	text := s.Text(doc)
	if !s.Anchored || text == "" || s.MarkerEnd <= s.Start {
		return text
	}
	if s.MarkerEnd >= s.End {
		return ""
	}
	return strings.TrimLeft(doc[s.MarkerEnd:s.End], " \t\r\n:.;-–—")
}

type marker struct {
	source string
	re     *regexp.Regexp
}

// Locator is safe for concurrent use.
type Locator struct {
	start    []marker
	end      []marker
	fraction float64
	maxLen   int
}

// NewLocator compiles the configured markers.
func NewLocator(cfg Config) (*Locator, error) {
	start, err := compileMarkers(cfg.StartMarkers)
	if err != nil {
		return nil, fmt.Errorf("start marker: %w", err)
	}
	end, err := compileMarkers(cfg.EndMarkers)
	if err != nil {
		return nil, fmt.Errorf("end marker: %w", err)
	}
	fraction := cfg.FallbackFraction
	if fraction <= 0 || fraction > 1 {
		fraction = defaultFallbackFraction
	}
	maxLen := cfg.MaxLength
	if maxLen < 0 {
		maxLen = 0
	}
	return &Locator{start: start, end: end, fraction: fraction, maxLen: maxLen}, nil
}

func compileMarkers(patterns []string) ([]marker, error) {
	out := make([]marker, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, marker{source: p, re: re})
	}
	return out, nil
}

// Locate never fails: an unmatched start falls back to the document tail, an
// unmatched end runs to the document end (or the length cap).
func (l *Locator) Locate(text string) Span {
	if len(text) == 0 {
		return Span{}
	}

	span := Span{}
	searchFrom := 0
	if m, loc := firstMatch(l.start, text); loc != nil {
		span.Start = loc[0]
		span.Anchored = true
		span.StartMarker = m
		span.MarkerEnd = loc[1]
		searchFrom = loc[1]
	} else {
		span.Start = runeFloor(text, len(text)-int(float64(len(text))*l.fraction))
		if span.Start >= len(text) {
			span.Start = 0
		}
		searchFrom = span.Start
	}

	span.End = len(text)
	if m, loc := firstMatch(l.end, text[searchFrom:]); loc != nil {
		span.End = searchFrom + loc[0]
		span.EndMarker = m
	}

	if span.End <= span.Start {
		// an end marker glued to the start marker leaves nothing; keep the
		// rest of the document instead of an empty region
		span.End = len(text)
		span.EndMarker = ""
	}
	if l.maxLen > 0 && span.End-span.Start > l.maxLen {
		if capped := runeFloor(text, span.Start+l.maxLen); capped > span.Start {
			span.End = capped
		}
	}
	return span
}

// firstMatch walks markers in priority order; the first pattern that matches
// anywhere wins, regardless of where other patterns would match.
func firstMatch(markers []marker, text string) (string, []int) {
	for _, m := range markers {
		if loc := m.re.FindStringIndex(text); loc != nil {
			return m.source, loc
		}
	}
	return "", nil
}

// runeFloor moves i back to the nearest rune boundary.
func runeFloor(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
