package fetcher

import (
	"context"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/docqa/internal/models"
)

type parseFunc func(ctx context.Context, r io.ReaderAt, size int64) ([]models.Document, error)

var parsers = map[string]parseFunc{
	".pdf":  parsePDF,
	".docx": parseDOCX,
	".eml":  parseEML,
	".html": parseHTML,
	".htm":  parseHTML,
	".txt":  parseText,
	".md":   parseText,
}

// parsePDF yields one document per page.
func parsePDF(ctx context.Context, r io.ReaderAt, size int64) ([]models.Document, error) {
	pages, err := documentloaders.NewPDF(r, size).Load(ctx)
	if err != nil {
		return nil, err
	}
	return fromSchema(pages), nil
}

func parseText(ctx context.Context, r io.ReaderAt, size int64) ([]models.Document, error) {
	docs, err := documentloaders.NewText(io.NewSectionReader(r, 0, size)).Load(ctx)
	if err != nil {
		return nil, err
	}
	return fromSchema(docs), nil
}

func parseHTML(_ context.Context, r io.ReaderAt, size int64) ([]models.Document, error) {
	doc, err := goquery.NewDocumentFromReader(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, err
	}

	return []models.Document{{
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
		Content:  extractMainContent(doc),
		Metadata: map[string]interface{}{},
	}}, nil
}

func fromSchema(docs []schema.Document) []models.Document {
	out := make([]models.Document, 0, len(docs))
	for _, d := range docs {
		metadata := make(map[string]interface{}, len(d.Metadata))
		for k, v := range d.Metadata {
			metadata[k] = v
		}
		out = append(out, models.Document{
			Content:  d.PageContent,
			Metadata: metadata,
		})
	}
	return out
}

func extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript, template").Remove()

	// Try to find main content area
	selectors := []string{
		"main",
		"article",
		"[role=main]",
		".content",
		"#content",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	// Fallback to body if no main content found
	if strings.TrimSpace(content) == "" {
		content = doc.Find("body").Text()
	}

	return cleanContent(content)
}

// cleanContent collapses runs of blanks inside each line and drops empty
// lines, keeping line structure for the chunker.
func cleanContent(content string) string {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
