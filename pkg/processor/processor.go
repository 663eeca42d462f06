package processor

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xhad/docqa/internal/models"
)

// chunkNamespace seeds deterministic chunk IDs, so re-indexing the same
// document overwrites rather than duplicates.
var chunkNamespace = uuid.MustParse("6f1c7f0e-2a47-4b8e-9a53-5d3c1f0a9e21")

type ProcessorConfig struct {
	ChunkSize    int // max characters per chunk
	ChunkOverlap int // characters shared by consecutive chunks; negative means none
	Separators   []string
}

// Segment is a window of the source text starting at byte offset Start.
type Segment struct {
	Text  string
	Start int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1500
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
		if config.ChunkOverlap >= config.ChunkSize {
			config.ChunkOverlap = config.ChunkSize / 5
		}
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}
	if len(config.Separators) == 0 {
		config.Separators = []string{"\n\n", "\n", " ", ""}
	}

	if config.ChunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap (%d) must be less than chunk size (%d)", config.ChunkOverlap, config.ChunkSize)
	}

	return &Processor{config: config}, nil
}

// Process splits every document into chunks. Chunk indices run across all
// documents in input order; whitespace-only windows are skipped.
func (p *Processor) Process(docs []models.Document) []models.Chunk {
	var chunks []models.Chunk

	for _, doc := range docs {
		for _, seg := range p.SplitText(doc.Content) {
			if strings.TrimSpace(seg.Text) == "" {
				continue
			}

			metadata := make(map[string]interface{}, len(doc.Metadata)+2)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			metadata["start_index"] = seg.Start
			metadata["chunk_index"] = len(chunks)

			chunks = append(chunks, models.Chunk{
				ID:         chunkID(doc, seg),
				Index:      len(chunks),
				Source:     doc.URL,
				Content:    seg.Text,
				StartIndex: seg.Start,
				Metadata:   metadata,
			})
		}
	}

	return chunks
}

// SplitText cuts text into windows of at most ChunkSize characters. A window
// ends just after the last occurrence of the most preferred separator found
// in its second half, or is cut hard at ChunkSize when none is. The next
// window starts ChunkOverlap characters before the previous end, nudged back
// to a word boundary when one is close.
func (p *Processor) SplitText(text string) []Segment {
	if text == "" {
		return nil
	}

	// byteAt[i] is the byte offset of rune i. Widths come from the source,
	// so an invalid byte counts as one rune of width one.
	runes := make([]rune, 0, len(text))
	byteAt := make([]int, 0, len(text)+1)
	for off := 0; off < len(text); {
		r, w := utf8.DecodeRuneInString(text[off:])
		runes = append(runes, r)
		byteAt = append(byteAt, off)
		off += w
	}
	byteAt = append(byteAt, len(text))
	n := len(runes)

	size, overlap := p.config.ChunkSize, p.config.ChunkOverlap
	var segments []Segment

	start := 0
	for {
		end := start + size
		if end >= n {
			segments = append(segments, Segment{Text: text[byteAt[start]:], Start: byteAt[start]})
			break
		}

		end = p.breakPoint(runes, start, end)
		segments = append(segments, Segment{Text: text[byteAt[start]:byteAt[end]], Start: byteAt[start]})

		start = wordStart(runes, end-overlap, start+1, overlap/2)
	}

	return segments
}

// breakPoint returns the cut position for the window [start, limit). The
// result is always greater than start+ChunkOverlap.
func (p *Processor) breakPoint(runes []rune, start, limit int) int {
	size, overlap := p.config.ChunkSize, p.config.ChunkOverlap
	lo := start + overlap
	if half := start + size/2; half > lo {
		lo = half
	}

	window := string(runes[lo:limit])
	for _, sep := range p.config.Separators {
		if sep == "" {
			break
		}
		if idx := strings.LastIndex(window, sep); idx >= 0 {
			return lo + utf8.RuneCountInString(window[:idx]) + utf8.RuneCountInString(sep)
		}
	}

	return limit
}

// wordStart moves pos back to the start of the word it falls in, by at most
// maxBack runes and never below floor. pos is returned unchanged when no
// boundary is in reach.
func wordStart(runes []rune, pos, floor, maxBack int) int {
	if pos <= floor || unicode.IsSpace(runes[pos-1]) {
		return pos
	}
	for i := pos - 1; i >= floor && pos-i <= maxBack; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return pos
}

func chunkID(doc models.Document, seg Segment) string {
	page := ""
	if v, ok := doc.Metadata["page"]; ok {
		page = fmt.Sprint(v)
	}
	key := fmt.Sprintf("%s#%s@%d:%s", doc.URL, page, seg.Start, seg.Text)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}
