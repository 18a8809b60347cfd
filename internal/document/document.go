// Package document loads uploaded files into pages the model can read.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Common document errors
var (
	ErrEmptyDocument   = errors.New("document is empty")
	ErrUnsupportedType = errors.New("unsupported document type")
)

// Document is a loaded file split into pages
type Document struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Pages    []Page `json:"pages"`
	Size     int64  `json:"size"`
}

// Page is one unit of model input. Text pages carry Text; binary pages carry
// Data with the document's MIME type.
type Page struct {
	Number   int    `json:"number"`
	Text     string `json:"text,omitempty"`
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type,omitempty"`
}

// IsBinary reports whether the page is passed to the model as raw bytes
func (p Page) IsBinary() bool {
	return len(p.Data) > 0
}

// binaryTypes are formats the model reads natively
var binaryTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
}

// textTypes are non text/* types handled as plain text
var textTypes = map[string]bool{
	"application/json": true,
	"application/xml":  true,
}

// Loader reads files from disk into Documents
type Loader struct {
	chunkChars int
}

// NewLoader creates a loader that splits text pages longer than chunkChars
func NewLoader(chunkChars int) *Loader {
	if chunkChars <= 0 {
		chunkChars = 6000
	}
	return &Loader{chunkChars: chunkChars}
}

// Load reads path and splits it into pages
func (l *Loader) Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}

	doc := &Document{
		ID:       Fingerprint(data),
		Name:     filepath.Base(path),
		MIMEType: DetectMIMEType(path, data),
		Size:     int64(len(data)),
	}

	switch {
	case binaryTypes[doc.MIMEType]:
		doc.Pages = []Page{{Number: 1, Data: data, MIMEType: doc.MIMEType}}
	case isTextType(doc.MIMEType):
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupportedType, doc.Name)
		}
		doc.Pages = l.splitPages(string(data))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, doc.MIMEType)
	}

	if len(doc.Pages) == 0 {
		return nil, ErrEmptyDocument
	}

	return doc, nil
}

// splitPages splits on form feeds, then chunks oversized pages
func (l *Loader) splitPages(text string) []Page {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var pages []Page
	for _, raw := range strings.Split(text, "\f") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		for _, chunk := range chunkText(raw, l.chunkChars) {
			pages = append(pages, Page{Number: len(pages) + 1, Text: chunk})
		}
	}
	return pages
}

// chunkText splits text into pieces of at most limit bytes, preferring
// paragraph, then line, then word boundaries.
func chunkText(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := splitPoint(text, limit)
		if chunk := strings.TrimSpace(text[:cut]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func splitPoint(text string, limit int) int {
	window := text[:limit]
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(window, sep); i > limit/2 {
			return i + len(sep)
		}
	}
	// No boundary in the back half: cut at the last rune start.
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	if limit == 0 {
		_, size := utf8.DecodeRuneInString(text)
		return size
	}
	return limit
}

// DetectMIMEType guesses the MIME type from the extension, then the content
func DetectMIMEType(path string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return "text/markdown"
	}

	mediaType, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}

// Fingerprint returns the hex SHA-256 digest used as the document ID
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FingerprintFile streams path through SHA-256; it equals Fingerprint of the
// file contents.
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening document: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing document: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isTextType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "text/") || textTypes[mediaType]
}
