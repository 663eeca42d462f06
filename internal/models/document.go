package models

// Document is one parsed text segment of a fetched file. PDFs yield one
// Document per page, every other format yields a single Document.
type Document struct {
	URL      string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// Chunk is a window of a Document's text. StartIndex is the byte offset of
// Content inside the parent Document's text.
type Chunk struct {
	ID         string
	Index      int
	Source     string
	Content    string
	StartIndex int
	Metadata   map[string]interface{}
}

// ScoredChunk is a chunk returned by a similarity query.
type ScoredChunk struct {
	ID       string
	Source   string
	Content  string
	Metadata map[string]interface{}
	Score    float32
}

type Answer struct {
	Question string
	Answer   string
	Sources  []string
}
