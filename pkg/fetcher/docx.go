package fetcher

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xhad/docqa/internal/models"
)

const docxDocumentXMLPath = "word/document.xml"

// parseDOCX reads the main document part of an OOXML package and returns its
// text with one line per paragraph.
func parseDOCX(_ context.Context, r io.ReaderAt, size int64) ([]models.Document, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("not a docx archive: %w", err)
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == docxDocumentXMLPath {
			part = f
			break
		}
	}
	if part == nil {
		return nil, fmt.Errorf("%s not found", docxDocumentXMLPath)
	}

	rc, err := part.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", part.Name, err)
	}
	defer rc.Close()

	text, err := docxText(rc)
	if err != nil {
		return nil, err
	}

	return []models.Document{{Content: text, Metadata: map[string]interface{}{}}}, nil
}

// docxText walks WordprocessingML and keeps the character data of w:t
// elements. Tabs and breaks become whitespace, paragraphs become lines.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		b      strings.Builder
		para   strings.Builder
		inText bool
	)
	flush := func() {
		if line := strings.TrimSpace(para.String()); line != "" {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		para.Reset()
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode document xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	flush()

	return strings.TrimSpace(b.String()), nil
}
