package render

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// zipEpoch is stamped on every archive entry so equal documents produce
// equal bytes.
var zipEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>
</Types>`

	rootRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

	documentRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>
</Relationships>`

	stylesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:docDefaults>
<w:rPrDefault><w:rPr><w:rFonts w:ascii="Times New Roman" w:hAnsi="Times New Roman" w:cs="Times New Roman" w:eastAsia="Times New Roman"/><w:sz w:val="24"/><w:szCs w:val="24"/><w:lang w:val="ru-RU"/></w:rPr></w:rPrDefault>
<w:pPrDefault><w:pPr><w:spacing w:after="120" w:line="276" w:lineRule="auto"/></w:pPr></w:pPrDefault>
</w:docDefaults>
<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/><w:qFormat/></w:style>
<w:style w:type="paragraph" w:styleId="Heading1"><w:name w:val="heading 1"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/><w:qFormat/><w:pPr><w:keepNext/><w:spacing w:before="240" w:after="120"/><w:jc w:val="center"/><w:outlineLvl w:val="0"/></w:pPr><w:rPr><w:b/><w:sz w:val="28"/><w:szCs w:val="28"/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="Heading2"><w:name w:val="heading 2"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/><w:qFormat/><w:pPr><w:keepNext/><w:outlineLvl w:val="1"/></w:pPr><w:rPr><w:b/></w:rPr></w:style>
<w:style w:type="table" w:default="1" w:styleId="TableNormal"><w:name w:val="Normal Table"/><w:tblPr><w:tblInd w:w="0" w:type="dxa"/><w:tblCellMar><w:left w:w="108" w:type="dxa"/><w:right w:w="108" w:type="dxa"/></w:tblCellMar></w:tblPr></w:style>
</w:styles>`

	documentHead = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

	// A4 portrait, 2 cm margins (3 cm left).
	documentTail = `<w:sectPr><w:pgSz w:w="11906" w:h="16838"/><w:pgMar w:top="1134" w:right="850" w:bottom="1134" w:left="1701" w:header="708" w:footer="708" w:gutter="0"/></w:sectPr></w:body></w:document>`
)

// WriteDocx serializes doc as a .docx package. Output depends only on doc.
func WriteDocx(w io.Writer, doc Document) error {
	body, err := documentXML(doc)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	parts := []struct {
		name string
		data []byte
	}{
		{"[Content_Types].xml", []byte(contentTypesXML)},
		{"_rels/.rels", []byte(rootRelsXML)},
		{"word/_rels/document.xml.rels", []byte(documentRelsXML)},
		{"word/styles.xml", []byte(stylesXML)},
		{"word/document.xml", body},
	}
	for _, p := range parts {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     p.name,
			Method:   zip.Deflate,
			Modified: zipEpoch,
		})
		if err != nil {
			return fmt.Errorf("docx: create %s: %w", p.name, err)
		}
		if _, err := f.Write(p.data); err != nil {
			return fmt.Errorf("docx: write %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("docx: finalize: %w", err)
	}
	return nil
}

// Docx is WriteDocx into memory.
func Docx(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteDocx(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func documentXML(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(documentHead)
	if err := writeBlocksXML(&buf, doc.Blocks); err != nil {
		return nil, err
	}
	buf.WriteString(documentTail)
	return buf.Bytes(), nil
}

func writeBlocksXML(buf *bytes.Buffer, blocks []Block) error {
	for _, b := range blocks {
		switch b.Kind {
		case KindPageBreak:
			buf.WriteString(`<w:p><w:r><w:br w:type="page"/></w:r></w:p>`)
		case KindTable:
			if b.Table == nil {
				continue
			}
			if err := writeTableXML(buf, b.Table); err != nil {
				return err
			}
		case KindParagraph, KindHeading:
			if err := writeParagraphXML(buf, b); err != nil {
				return err
			}
		default:
			return fmt.Errorf("docx: unknown block kind %q", b.Kind)
		}
	}
	return nil
}

func writeParagraphXML(buf *bytes.Buffer, b Block) error {
	buf.WriteString(`<w:p>`)
	style := ""
	if b.Kind == KindHeading {
		level := b.Level
		if level < 1 {
			level = 1
		}
		if level > 2 {
			level = 2
		}
		style = fmt.Sprintf("Heading%d", level)
	}
	if style != "" || b.Align != "" {
		buf.WriteString(`<w:pPr>`)
		if style != "" {
			fmt.Fprintf(buf, `<w:pStyle w:val="%s"/>`, style)
		}
		if b.Align != "" {
			fmt.Fprintf(buf, `<w:jc w:val="%s"/>`, b.Align)
		}
		buf.WriteString(`</w:pPr>`)
	}
	for _, r := range b.Runs {
		buf.WriteString(`<w:r>`)
		if r.Bold || r.Italic || r.Highlight {
			buf.WriteString(`<w:rPr>`)
			if r.Bold {
				buf.WriteString(`<w:b/><w:bCs/>`)
			}
			if r.Italic {
				buf.WriteString(`<w:i/><w:iCs/>`)
			}
			if r.Highlight {
				buf.WriteString(`<w:highlight w:val="yellow"/>`)
			}
			buf.WriteString(`</w:rPr>`)
		}
		if r.Break {
			buf.WriteString(`<w:br/>`)
		}
		buf.WriteString(`<w:t xml:space="preserve">`)
		if err := xml.EscapeText(buf, []byte(r.Text)); err != nil {
			return fmt.Errorf("docx: escape run: %w", err)
		}
		buf.WriteString(`</w:t></w:r>`)
	}
	buf.WriteString(`</w:p>`)
	return nil
}

// writeTableXML emits a borderless full-width table with equal columns.
func writeTableXML(buf *bytes.Buffer, t *Table) error {
	cols := 0
	for _, row := range t.Rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return nil
	}
	width := 5000 / cols

	buf.WriteString(`<w:tbl><w:tblPr><w:tblW w:w="5000" w:type="pct"/><w:tblBorders>`)
	for _, side := range []string{"top", "left", "bottom", "right", "insideH", "insideV"} {
		fmt.Fprintf(buf, `<w:%s w:val="nil"/>`, side)
	}
	buf.WriteString(`</w:tblBorders><w:tblLayout w:type="fixed"/></w:tblPr><w:tblGrid>`)
	for i := 0; i < cols; i++ {
		// grid columns are in twips; 9355 is the text width of the page above
		fmt.Fprintf(buf, `<w:gridCol w:w="%d"/>`, 9355/cols)
	}
	buf.WriteString(`</w:tblGrid>`)

	for _, row := range t.Rows {
		buf.WriteString(`<w:tr>`)
		for i := 0; i < cols; i++ {
			fmt.Fprintf(buf, `<w:tc><w:tcPr><w:tcW w:w="%d" w:type="pct"/></w:tcPr>`, width)
			var blocks []Block
			if i < len(row) {
				blocks = row[i].Blocks
			}
			if len(blocks) == 0 {
				// every cell needs at least one paragraph
				buf.WriteString(`<w:p/>`)
			} else if err := writeBlocksXML(buf, blocks); err != nil {
				return err
			}
			buf.WriteString(`</w:tc>`)
		}
		buf.WriteString(`</w:tr>`)
	}
	buf.WriteString(`</w:tbl>`)
	return nil
}
