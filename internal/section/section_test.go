package section

import (
	"math/rand"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocator(t *testing.T, cfg Config) *Locator {
	t.Helper()
	l, err := NewLocator(cfg)
	require.NoError(t, err)
	return l
}

func normalize(s string) string { return strings.Join(strings.Fields(s), " ") }

func TestLocate_PriorityBeatsPosition(t *testing.T) {
	doc := "Preface. Technical Specification follows. Body text. Appendix No. 1 starts here. Items."
	l := newLocator(t, Config{
		StartMarkers: []string{`Appendix No\. 1`, `Technical Specification`},
	})

	span := l.Locate(doc)
	assert.True(t, span.Anchored)
	assert.Equal(t, strings.Index(doc, "Appendix No. 1"), span.Start)
	assert.Equal(t, len(doc), span.End)
	assert.Equal(t, `Appendix No\. 1`, span.StartMarker)
}

func TestLocate_CaseInsensitive(t *testing.T) {
	doc := "вступление\nТЕХНИЧЕСКОЕ ЗАДАНИЕ\n1. пункт"
	l := newLocator(t, Config{StartMarkers: []string{`техническое\s+задание`}})
	span := l.Locate(doc)
	assert.True(t, span.Anchored)
	assert.Equal(t, strings.Index(doc, "ТЕХНИЧЕСКОЕ"), span.Start)
}

func TestLocate_EndSearchedOnlyAfterStart(t *testing.T) {
	// the end marker text also appears before the start marker; it must be ignored
	doc := "see Annex B below. Annex A: 1. one 2. two Annex B: other"
	l := newLocator(t, Config{
		StartMarkers: []string{`Annex A`},
		EndMarkers:   []string{`Annex B`},
	})
	span := l.Locate(doc)
	assert.Equal(t, "Annex A: 1. one 2. two ", span.Text(doc))
	assert.Equal(t, "Annex B", span.EndMarker)
}

func TestLocate_EndMarkerPriority(t *testing.T) {
	doc := "START body FIN more END tail"
	l := newLocator(t, Config{
		StartMarkers: []string{`START`},
		EndMarkers:   []string{`END`, `FIN`},
	})
	span := l.Locate(doc)
	assert.Equal(t, strings.Index(doc, "END"), span.End)
}

func TestLocate_FallbackFraction(t *testing.T) {
	doc := strings.Repeat("0123456789", 10)
	l := newLocator(t, Config{
		StartMarkers:     []string{`no such marker`},
		FallbackFraction: 0.6,
	})

	span := l.Locate(doc)
	assert.False(t, span.Anchored)
	assert.False(t, span.Empty())
	assert.Equal(t, 40, span.Start)
	assert.Equal(t, 100, span.End)
}

func TestLocate_FallbackIsRuneSafe(t *testing.T) {
	doc := strings.Repeat("жёлтый ", 17)
	l := newLocator(t, Config{FallbackFraction: 0.33})
	span := l.Locate(doc)
	assert.False(t, span.Empty())
	assert.True(t, utf8.ValidString(span.Text(doc)))
}

func TestLocate_FallbackDefaultsFraction(t *testing.T) {
	doc := strings.Repeat("a", 1000)
	l := newLocator(t, Config{FallbackFraction: 7})
	span := l.Locate(doc)
	assert.Equal(t, 400, span.Start)
}

func TestLocate_TinyDocumentNeverEmpty(t *testing.T) {
	l := newLocator(t, Config{StartMarkers: []string{`x`}, FallbackFraction: 0.6})
	span := l.Locate("a")
	assert.False(t, span.Empty())
	assert.Equal(t, "a", span.Text("a"))
}

func TestLocate_MaxLengthCap(t *testing.T) {
	doc := "HEAD " + strings.Repeat("б", 100)
	l := newLocator(t, Config{StartMarkers: []string{`HEAD`}, MaxLength: 11})
	span := l.Locate(doc)
	assert.LessOrEqual(t, span.Len(), 11)
	assert.True(t, utf8.ValidString(span.Text(doc)))
	assert.True(t, strings.HasPrefix(span.Text(doc), "HEAD "))
}

func TestLocate_EmptyDocument(t *testing.T) {
	l := newLocator(t, Config{StartMarkers: []string{`x`}})
	assert.True(t, l.Locate("").Empty())
	assert.Equal(t, "", Span{}.Text("abc"))
}

func TestNewLocator_BadPattern(t *testing.T) {
	_, err := NewLocator(Config{StartMarkers: []string{"("}})
	assert.Error(t, err)
}

func TestSplit_KeepsNumberWithFollowingChunk(t *testing.T) {
	text := "ТЕХНИЧЕСКОЕ ЗАДАНИЕ\n1. Общие сведения\nтекст\n2. Объем услуг\n  3. Сроки"
	parts := Split(text, nil)

	assert.Equal(t, "ТЕХНИЧЕСКОЕ ЗАДАНИЕ", parts.Preamble)
	require.Len(t, parts.Chunks, 3)
	assert.Equal(t, Chunk{Ordinal: 0, Text: "1. Общие сведения\nтекст"}, parts.Chunks[0])
	assert.Equal(t, Chunk{Ordinal: 1, Text: "2. Объем услуг"}, parts.Chunks[1])
	assert.Equal(t, Chunk{Ordinal: 2, Text: "3. Сроки"}, parts.Chunks[2])
}

func TestSplit_PassesThroughNumberingGaps(t *testing.T) {
	parts := Split("3. c\n1. a\n7. g", nil)
	require.Len(t, parts.Chunks, 3)
	assert.Equal(t, "3. c", parts.Chunks[0].Text)
	assert.Equal(t, "1. a", parts.Chunks[1].Text)
	assert.Equal(t, "7. g", parts.Chunks[2].Text)
	assert.Empty(t, parts.Preamble)
}

func TestSplit_NoBoundaryIsOneChunk(t *testing.T) {
	parts := Split("  just prose without numbers  ", nil)
	require.Len(t, parts.Chunks, 1)
	assert.Equal(t, "just prose without numbers", parts.Chunks[0].Text)
	assert.Empty(t, parts.Preamble)

	assert.Empty(t, Split(" \n ", nil).Chunks)
}

func TestSplit_DropsWhitespaceOnlyPieces(t *testing.T) {
	parts := Split("1.\n\n \n2. b", regexp.MustCompile(`(?m)^\d+\.`))
	require.Len(t, parts.Chunks, 2)
	assert.Equal(t, "1.", parts.Chunks[0].Text)
	assert.Equal(t, 1, parts.Chunks[1].Ordinal)
}

func TestSplit_Reconstruction(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	words := []string{"услуги", "оказаны", "в", "объеме", "100", "шт.", "Москва", "2.5", "1)", "—"}
	for n := 0; n < 200; n++ {
		var sb strings.Builder
		lines := rng.Intn(12)
		for i := 0; i < lines; i++ {
			if rng.Intn(3) == 0 {
				sb.WriteString(strings.Repeat(" ", rng.Intn(3)))
				sb.WriteString(string(rune('1'+rng.Intn(9))) + ". ")
			}
			for w := rng.Intn(6); w > 0; w-- {
				sb.WriteString(words[rng.Intn(len(words))] + " ")
			}
			sb.WriteString(strings.Repeat("\n", 1+rng.Intn(2)))
		}
		text := sb.String()
		parts := Split(text, nil)
		require.Equal(t, normalize(text), normalize(parts.Join()), "input %q", text)
		for i, c := range parts.Chunks {
			require.Equal(t, i, c.Ordinal)
			require.NotEmpty(t, strings.TrimSpace(c.Text))
		}
	}
}

func TestLocateAndSplit_AppendixScenario(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(strings.Repeat("a", 499) + "\n")
	require.Equal(t, 500, sb.Len())
	sb.WriteString("Appendix No. 1\n1. Cleaning of the park area.\n2. Removal of waste.\n3. Lawn care ")
	sb.WriteString(strings.Repeat("z", 3000-sb.Len()-1) + "\n")
	require.Equal(t, 3000, sb.Len())
	sb.WriteString("Appendix No. 2\n1. Form of act.")
	doc := sb.String()

	l := newLocator(t, Config{
		StartMarkers: []string{`Appendix\s+No\.?\s*1`, `Technical\s+Specification`},
		EndMarkers:   []string{`Appendix\s+No\.?\s*2`},
	})
	span := l.Locate(doc)
	assert.Equal(t, 500, span.Start)
	assert.Equal(t, 3000, span.End)

	parts := Split(span.Text(doc), nil)
	assert.Equal(t, "Appendix No. 1", parts.Preamble)
	require.Len(t, parts.Chunks, 3)
	assert.True(t, strings.HasPrefix(parts.Chunks[2].Text, "3. Lawn care"))
}

func TestParts_PromotePreamble(t *testing.T) {
	parts := Split("Вводная часть.\n1. Уборка.\n2. Вывоз.", nil)
	require.Equal(t, "Вводная часть.", parts.Preamble)

	promoted := parts.PromotePreamble()
	assert.Empty(t, promoted.Preamble)
	require.Len(t, promoted.Chunks, 3)
	for i, c := range promoted.Chunks {
		assert.Equal(t, i, c.Ordinal)
	}
	assert.Equal(t, "Вводная часть.", promoted.Chunks[0].Text)
	assert.Equal(t, "2. Вывоз.", promoted.Chunks[2].Text)
	assert.Equal(t, parts.Join(), promoted.Join())

	// nothing to promote
	none := Split("1. Уборка.", nil)
	assert.Equal(t, none, none.PromotePreamble())
}

func TestSpan_BodyDropsStartMarker(t *testing.T) {
	loc := newLocator(t, Config{StartMarkers: []string{`Требования\s+к\s+документации`}})

	doc := "Текст.\nТребования к документации: Акт, фотоотчет."
	span := loc.Locate(doc)
	require.True(t, span.Anchored)
	assert.Equal(t, "Требования к документации: Акт, фотоотчет.", span.Text(doc))
	assert.Equal(t, "Акт, фотоотчет.", span.Body(doc))

	heading := "Требования к документации\n"
	assert.Equal(t, "", loc.Locate(heading).Body(heading))

	plain := newLocator(t, Config{StartMarkers: []string{`нет такого`}, FallbackFraction: 1})
	fb := plain.Locate(doc)
	require.False(t, fb.Anchored)
	assert.Equal(t, fb.Text(doc), fb.Body(doc))
}
