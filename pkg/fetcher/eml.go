package fetcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/docqa/internal/models"
	"golang.org/x/text/encoding/htmlindex"
)

var headerDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// charsetReader converts r from the named charset to UTF-8. Labels follow
// the WHATWG encoding list, so iso-8859-1 decodes as windows-1252.
func charsetReader(charset string, r io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(r), nil
}

// parseEML renders an RFC 5322 message as a short header block followed by
// its text/plain parts. HTML parts are used only when no plain part exists.
func parseEML(_ context.Context, r io.ReaderAt, size int64) ([]models.Document, error) {
	msg, err := mail.ReadMessage(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	var plain, html []string
	if err := collectParts(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body, &plain, &html); err != nil {
		return nil, err
	}

	body := strings.Join(plain, "\n\n")
	if strings.TrimSpace(body) == "" {
		for _, h := range html {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(h))
			if err != nil {
				return nil, fmt.Errorf("parse html part: %w", err)
			}
			body += extractMainContent(doc) + "\n\n"
		}
	}

	subject := decodeHeader(msg.Header.Get("Subject"))
	var head strings.Builder
	for _, key := range []string{"Subject", "From", "To", "Date"} {
		if v := decodeHeader(msg.Header.Get(key)); v != "" {
			fmt.Fprintf(&head, "%s: %s\n", key, v)
		}
	}

	return []models.Document{{
		Title:   subject,
		Content: strings.TrimSpace(head.String() + "\n" + strings.TrimSpace(body)),
		Metadata: map[string]interface{}{
			"subject": subject,
			"from":    decodeHeader(msg.Header.Get("From")),
		},
	}}, nil
}

func collectParts(contentType, encoding string, body io.Reader, plain, html *[]string) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextRawPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read multipart: %w", err)
			}
			if err := collectParts(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part, plain, html); err != nil {
				return err
			}
		}
	}

	if mediaType != "text/plain" && mediaType != "text/html" {
		return nil
	}

	r := decodeTransfer(encoding, body)
	if cs := strings.ToLower(params["charset"]); cs != "" && cs != "utf-8" && cs != "us-ascii" {
		// Unknown labels keep the raw bytes.
		if decoded, err := charsetReader(cs, r); err == nil {
			r = decoded
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("decode %s part: %w", mediaType, err)
	}

	if mediaType == "text/html" {
		*html = append(*html, string(data))
	} else {
		*plain = append(*plain, strings.TrimSpace(string(data)))
	}
	return nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	}
	return r
}

func decodeHeader(v string) string {
	decoded, err := headerDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}
