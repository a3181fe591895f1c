// Package extract turns stored documents into plain text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// Func extracts text from one payload.
type Func func(data []byte) (string, error)

// Registry picks an extractor by key extension.
type Registry struct {
	byExt    map[string]Func
	fallback Func
}

// NewRegistry knows PDF, HTML and plain-text documents.
func NewRegistry() *Registry {
	return &Registry{
		byExt: map[string]Func{
			".pdf":      PDF,
			".html":     HTML,
			".htm":      HTML,
			".txt":      Text,
			".md":       Text,
			".markdown": Text,
		},
		fallback: Text,
	}
}

// Register adds or replaces the extractor for ext (".docx", ...).
func (r *Registry) Register(ext string, fn Func) {
	r.byExt[strings.ToLower(ext)] = fn
}

func (r *Registry) Extract(_ context.Context, key string, data []byte) (string, error) {
	fn, ok := r.byExt[strings.ToLower(path.Ext(key))]
	if !ok {
		fn = r.fallback
	}
	text, err := fn(data)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", key, err)
	}
	return normalize(text), nil
}

// PDF returns the text layer of a PDF. Scanned pages yield nothing.
func PDF(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}
	return buf.String(), nil
}

// HTML returns the text of the main content area, falling back to body.
func HTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	doc.Find("script, style, noscript").Remove()

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if strings.TrimSpace(content) == "" {
		content = doc.Find("body").Text()
	}
	return content, nil
}

// Text accepts UTF-8 and drops anything that is not.
func Text(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

// normalize collapses runs of whitespace.
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
