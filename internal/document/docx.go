package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBodyPart = "word/document.xml"

// parseDocx walks word/document.xml once, emitting paragraphs and top-level
// table rows in encounter order. Nested tables fold into their outer cell.
func parseDocx(data []byte) ([]Block, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx archive: %w", err)
	}
	var part *zip.File
	for _, f := range zr.File {
		if f.Name == docxBodyPart {
			part = f
			break
		}
	}
	if part == nil {
		return nil, fmt.Errorf("%s not found in archive", docxBodyPart)
	}
	rc, err := part.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return walkBody(rc)
}

func walkBody(r io.Reader) ([]Block, error) {
	dec := xml.NewDecoder(r)

	var (
		blocks   []Block
		para     strings.Builder
		cell     strings.Builder
		cells    []string
		tblDepth int
		inText   bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", docxBodyPart, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tblDepth++
			case "tr":
				if tblDepth == 1 {
					cells = cells[:0]
				}
			case "tc":
				if tblDepth == 1 {
					cell.Reset()
				}
			case "p":
				para.Reset()
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := para.String()
				if tblDepth == 0 {
					blocks = append(blocks, Block{Kind: KindParagraph, Text: text})
					continue
				}
				if s := strings.TrimSpace(text); s != "" {
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(s)
				}
			case "tc":
				if tblDepth == 1 {
					cells = append(cells, strings.TrimSpace(cell.String()))
				}
			case "tr":
				if tblDepth == 1 {
					blocks = append(blocks, Block{Kind: KindTableRow, Text: joinCells(cells)})
				}
			case "tbl":
				if tblDepth > 0 {
					tblDepth--
				}
			}
		}
	}
	return blocks, nil
}

func joinCells(cells []string) string {
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		if c != "" {
			out = append(out, c)
		}
	}
	return strings.Join(out, " ")
}
