package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/xhad/docqa/internal/models"
	"go.uber.org/zap"
)

var (
	ErrInvalidURL        = errors.New("invalid document url")
	ErrDownload          = errors.New("document download failed")
	ErrTooLarge          = errors.New("document exceeds size limit")
	ErrUnsupportedFormat = errors.New("unsupported file type")
	ErrParse             = errors.New("document could not be parsed")
)

type FetcherConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string
	TempDir   string
	Client    *http.Client
	Logger    *zap.Logger
}

// Fetcher downloads a document, stores it in a temporary file named with the
// inferred suffix and hands it to the parser for that suffix.
type Fetcher struct {
	config FetcherConfig
	client *http.Client
	logger *zap.Logger
}

func NewWithConfig(config FetcherConfig) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = 50 << 20
	}
	if config.UserAgent == "" {
		config.UserAgent = "docqa/1.0"
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Fetcher{
		config: config,
		client: client,
		logger: logger,
	}
}

func New() *Fetcher {
	return NewWithConfig(FetcherConfig{})
}

// Fetch downloads rawURL and returns its parsed text segments.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]models.Document, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: received status code %d", ErrDownload, resp.StatusCode)
	}
	if resp.ContentLength > f.config.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	suffix := InferSuffix(rawURL, resp.Header.Get("Content-Type"))
	parse, ok := parsers[suffix]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, suffix)
	}

	tmp, err := os.CreateTemp(f.config.TempDir, "docqa-*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if n > f.config.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.config.MaxBytes)
	}

	f.logger.Debug("document downloaded",
		zap.String("url", rawURL),
		zap.String("suffix", suffix),
		zap.Int64("bytes", n))

	return parseFile(ctx, parse, tmp, n, rawURL, suffix)
}

// FetchFile parses a local file, dispatching on its extension.
func (f *Fetcher) FetchFile(ctx context.Context, name string) ([]models.Document, error) {
	suffix := strings.ToLower(filepath.Ext(name))
	parse, ok := parsers[suffix]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, suffix)
	}

	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > f.config.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}

	return parseFile(ctx, parse, file, info.Size(), name, suffix)
}

func parseFile(ctx context.Context, parse parseFunc, r io.ReaderAt, size int64, source, suffix string) ([]models.Document, error) {
	docs, err := parse(ctx, r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	var out []models.Document
	for _, doc := range docs {
		// Byte offsets into Content must line up with rune boundaries.
		doc.Content = strings.ToValidUTF8(doc.Content, "\uFFFD")
		doc.Title = strings.ToValidUTF8(doc.Title, "\uFFFD")
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		doc.URL = source
		if doc.Metadata == nil {
			doc.Metadata = map[string]interface{}{}
		}
		doc.Metadata["source"] = source
		doc.Metadata["format"] = strings.TrimPrefix(suffix, ".")
		out = append(out, doc)
	}
	return out, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return nil
}

var contentTypeSuffixes = map[string]string{
	"application/pdf": ".pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"message/rfc822": ".eml",
	"text/html":      ".html",
	"text/plain":     ".txt",
	"text/markdown":  ".md",
}

// InferSuffix picks the file suffix used to choose a parser. The extension
// of the last path segment wins; otherwise "pdf" or "docx" appearing
// anywhere in the URL, then the response Content-Type, then ".tmp".
func InferSuffix(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		last := path.Base(u.Path)
		if i := strings.LastIndex(last, "."); i >= 0 && i < len(last)-1 {
			return strings.ToLower(last[i:])
		}
	}

	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "pdf"):
		return ".pdf"
	case strings.Contains(lower, "docx"):
		return ".docx"
	}

	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if suffix, ok := contentTypeSuffixes[mediaType]; ok {
			return suffix
		}
	}

	return ".tmp"
}

// Supported reports whether a parser is registered for suffix.
func Supported(suffix string) bool {
	_, ok := parsers[strings.ToLower(suffix)]
	return ok
}
